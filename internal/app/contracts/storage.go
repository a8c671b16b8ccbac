package contracts

import (
	"context"

	"ipms-mediator/internal/pkg/dto/workflow"
)

type MessageArchive interface {
	StoreExchange(ctx context.Context, record workflow.ArchiveRecord) (string, error)
}

type SagaJournal interface {
	Record(ctx context.Context, entry workflow.JournalEntry) error
}

type FacilityDirectory interface {
	Lookup(code, name string) (workflow.FacilityMapping, bool)
}

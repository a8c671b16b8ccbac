package contracts

import (
	"context"
	"net/url"

	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
)

type SHRClient interface {
	SaveBundle(ctx context.Context, bundle *fhir_dto.FHIRBundle) (*fhir_dto.FHIRBundle, error)
	SearchBundle(ctx context.Context, resourceType string, query url.Values) (*fhir_dto.FHIRBundle, error)
	GetTaskBundle(ctx context.Context, taskID string) (*fhir_dto.FHIRBundle, error)
}

type TerminologyClient interface {
	GetMappings(ctx context.Context, system, code string) ([]workflow.ConceptMapping, error)
}

type TranslatorClient interface {
	FHIRToHL7(ctx context.Context, template string, bundle *fhir_dto.FHIRBundle) (string, error)
	HL7ToFHIR(ctx context.Context, message string) (*fhir_dto.FHIRBundle, error)
}

type IdentityRegistryClient interface {
	UpsertPatient(ctx context.Context, patient json.RawMessage, key workflow.IdentityKey) error
}

package journal

import (
	"context"
	"time"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// JournalMongoRepository appends one document per saga step execution so an
// operator can follow an order across topics and match failures to
// dead-letter records.
type JournalMongoRepository struct {
	Collection *mongo.Collection
	Log        *zap.Logger
}

func NewJournalMongoRepository(db *mongo.Database, logger *zap.Logger) contracts.SagaJournal {
	return &JournalMongoRepository{
		Collection: db.Collection(constvars.MongoCollectionSagaJournal),
		Log:        logger,
	}
}

func (repo *JournalMongoRepository) Record(ctx context.Context, entry workflow.JournalEntry) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := repo.Collection.InsertOne(ctx, entry); err != nil {
		repo.Log.Error("JournalMongoRepository.Record error inserting journal entry",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, entry.Topic),
			zap.String(constvars.LoggingTaskIDKey, entry.TaskID),
			zap.Error(err),
		)
		return exceptions.ErrMongoInsertDocument(err, constvars.MongoCollectionSagaJournal)
	}
	return nil
}

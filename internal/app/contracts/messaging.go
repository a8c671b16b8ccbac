package contracts

import (
	"context"
	"time"

	"ipms-mediator/internal/pkg/dto/messaging"
)

// MessageProducer places envelopes on workflow topics. Send writes all
// envelopes inside one broker transaction.
type MessageProducer interface {
	Send(ctx context.Context, envelopes ...messaging.Envelope) error
	SendWithRetryToDeadLetter(ctx context.Context, envelope messaging.Envelope, topic string, maxRetries int, retryDelay time.Duration) error
}

type DeadLetterSink interface {
	SendDeadLetter(ctx context.Context, record messaging.DeadLetterRecord) error
}

// MessageHandler processes one consumed message. Returning an error aborts
// the current batch so that none of its offsets are committed.
type MessageHandler func(ctx context.Context, topic string, partition int32, message []byte) error

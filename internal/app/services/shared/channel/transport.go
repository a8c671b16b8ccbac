package channel

import (
	"context"
	"time"
)

// Record is one message written inside a producer transaction.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ConsumedMessage is one message handed out by a consumer transport. Cursor
// is the transport's own acknowledgment handle (a delivery tag on AMQP).
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Cursor    uint64
}

// ProducerTransport is the broker side of TransactionalProducer. A
// transaction spans every Produce between BeginTransaction and
// CommitTransaction.
type ProducerTransport interface {
	BeginTransaction(ctx context.Context) error
	Produce(ctx context.Context, record Record) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close() error
}

// ConsumerTransport is the broker side of BatchConsumer.
type ConsumerTransport interface {
	Subscribe(ctx context.Context, topics []string) error
	// FetchBatch returns up to max messages, waiting at most wait for the
	// first one. An empty batch is not an error.
	FetchBatch(ctx context.Context, max int, wait time.Duration) ([]ConsumedMessage, error)
	Heartbeat(ctx context.Context) error
	// CommitBatch marks every resolved message as consumed.
	CommitBatch(ctx context.Context, resolved []ConsumedMessage) error
	// RollbackBatch makes every message of batch deliverable again.
	RollbackBatch(ctx context.Context, batch []ConsumedMessage) error
	Close() error
}

package channel

import (
	"context"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// TransactionalProducer writes envelopes atomically: either every record of a
// Send lands on the broker or none does. Duplicate delivery protection comes
// from the broker's idempotent producer identity.
type TransactionalProducer struct {
	transport       ProducerTransport
	deadLetterTopic string
	log             *zap.Logger
	timer           backoff.Timer
	mu              sync.Mutex
}

func NewTransactionalProducer(transport ProducerTransport, deadLetterTopic string, logger *zap.Logger) *TransactionalProducer {
	if deadLetterTopic == "" {
		deadLetterTopic = constvars.TopicDeadLetter
	}
	return &TransactionalProducer{
		transport:       transport,
		deadLetterTopic: deadLetterTopic,
		log:             logger,
	}
}

func (p *TransactionalProducer) Send(ctx context.Context, envelopes ...messaging.Envelope) error {
	records := make([]Record, 0, len(envelopes))
	for _, envelope := range envelopes {
		value, err := envelope.Encode()
		if err != nil {
			return exceptions.ErrCannotMarshalJSON(err)
		}
		records = append(records, Record{
			Topic:   envelope.Topic,
			Value:   value,
			Headers: map[string]string{"kind": string(envelope.Kind)},
		})
	}
	return p.sendRecords(ctx, records)
}

// SendDeadLetter appends record to the dead-letter topic.
func (p *TransactionalProducer) SendDeadLetter(ctx context.Context, record messaging.DeadLetterRecord) error {
	value, err := record.Encode()
	if err != nil {
		return exceptions.ErrCannotMarshalJSON(err)
	}
	err = p.sendRecords(ctx, []Record{{
		Topic:   p.deadLetterTopic,
		Value:   value,
		Headers: map[string]string{"origin-topic": record.Topic},
	}})
	if err != nil {
		return exceptions.ErrDeadLetterPublish(err, record.Topic)
	}
	return nil
}

// SendWithRetryToDeadLetter sends envelope to topic, retrying with
// exponential backoff. Once maxRetries attempts have failed the envelope is
// written to the dead-letter topic and a retry.TerminalError is returned.
func (p *TransactionalProducer) SendWithRetryToDeadLetter(ctx context.Context, envelope messaging.Envelope, topic string, maxRetries int, retryDelay time.Duration) error {
	envelope = envelope.WithTopic(topic)
	payload, err := envelope.Encode()
	if err != nil {
		return exceptions.ErrCannotMarshalJSON(err)
	}

	policy := retry.Policy{
		Operation:    "produce " + topic,
		MaxAttempts:  maxRetries,
		InitialDelay: retryDelay,
		Timer:        p.timer,
		DeadLetter: &retry.DeadLetter{
			Sink:    p,
			Topic:   topic,
			Payload: payload,
		},
	}
	_, err = retry.Do(ctx, p.log, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.Send(ctx, envelope)
	}, nil)
	return err
}

func (p *TransactionalProducer) sendRecords(ctx context.Context, records []Record) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	if len(records) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transport.BeginTransaction(ctx); err != nil {
		p.log.Error("TransactionalProducer.sendRecords error beginning transaction",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		return exceptions.ErrBrokerTransaction(err, "begin")
	}

	for _, record := range records {
		if err := p.transport.Produce(ctx, record); err != nil {
			p.log.Error("TransactionalProducer.sendRecords error producing record",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingTopicKey, record.Topic),
				zap.Error(err),
			)
			p.abort(ctx, requestID)
			return exceptions.ErrBrokerPublish(err, record.Topic)
		}
	}

	if err := p.transport.CommitTransaction(ctx); err != nil {
		p.log.Error("TransactionalProducer.sendRecords error committing transaction",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		p.abort(ctx, requestID)
		return exceptions.ErrBrokerTransaction(err, "commit")
	}

	p.log.Debug("TransactionalProducer.sendRecords committed",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.Int(constvars.LoggingBatchSizeKey, len(records)),
	)
	return nil
}

func (p *TransactionalProducer) abort(ctx context.Context, requestID string) {
	if err := p.transport.AbortTransaction(context.WithoutCancel(ctx)); err != nil {
		p.log.Error("TransactionalProducer.abort error aborting transaction",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
	}
}

func (p *TransactionalProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport.Close()
}

package channel

import (
	"context"
	"errors"
	"ipms-mediator/internal/pkg/constvars"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const rabbitMQEmptyPollInterval = 100 * time.Millisecond

var errRabbitMQClosed = errors.New("rabbitmq connection closed")

// declareTopology binds one durable queue per topic to a durable direct
// exchange, using the topic name as routing key.
func declareTopology(ch *amqp.Channel, exchange string, topics []string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	for _, topic := range topics {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(topic, topic, exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

type rabbitMQProducerTransport struct {
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewRabbitMQProducerTransport opens a channel in AMQP transaction mode. On
// AMQP a transaction is always open; BeginTransaction therefore only checks
// the channel is usable.
func NewRabbitMQProducerTransport(conn *amqp.Connection, exchange string, topics []string, logger *zap.Logger) (ProducerTransport, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, exchange, topics); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Tx(); err != nil {
		ch.Close()
		return nil, err
	}
	return &rabbitMQProducerTransport{ch: ch, exchange: exchange, log: logger}, nil
}

func (t *rabbitMQProducerTransport) BeginTransaction(ctx context.Context) error {
	if t.ch.IsClosed() {
		return errRabbitMQClosed
	}
	return nil
}

func (t *rabbitMQProducerTransport) Produce(ctx context.Context, record Record) error {
	headers := amqp.Table{}
	for key, value := range record.Headers {
		headers[key] = value
	}

	return t.ch.PublishWithContext(ctx, t.exchange, record.Topic, false, false, amqp.Publishing{
		ContentType:  constvars.MIMEApplicationJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         record.Value,
	})
}

func (t *rabbitMQProducerTransport) CommitTransaction(ctx context.Context) error {
	return t.ch.TxCommit()
}

func (t *rabbitMQProducerTransport) AbortTransaction(ctx context.Context) error {
	return t.ch.TxRollback()
}

func (t *rabbitMQProducerTransport) Close() error {
	return t.ch.Close()
}

type rabbitMQConsumerTransport struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queues   []string
	next     int
	log      *zap.Logger
}

func NewRabbitMQConsumerTransport(conn *amqp.Connection, exchange string, prefetch int, logger *zap.Logger) (ConsumerTransport, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	return &rabbitMQConsumerTransport{conn: conn, ch: ch, exchange: exchange, log: logger}, nil
}

func (t *rabbitMQConsumerTransport) Subscribe(ctx context.Context, topics []string) error {
	if err := declareTopology(t.ch, t.exchange, topics); err != nil {
		return err
	}
	t.queues = append([]string(nil), topics...)
	return nil
}

// FetchBatch pulls with basic.get, round-robin over the subscribed queues, so
// the channel never holds deliveries outside the current batch.
func (t *rabbitMQConsumerTransport) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]ConsumedMessage, error) {
	deadline := time.Now().Add(wait)
	batch := make([]ConsumedMessage, 0, max)

	for len(batch) < max {
		if len(t.queues) == 0 {
			return batch, nil
		}

		found := false
		for i := 0; i < len(t.queues) && len(batch) < max; i++ {
			queue := t.queues[t.next%len(t.queues)]
			t.next++

			delivery, ok, err := t.ch.Get(queue, false)
			if err != nil {
				return batch, err
			}
			if !ok {
				continue
			}
			found = true
			batch = append(batch, ConsumedMessage{
				Topic:  queue,
				Offset: int64(delivery.DeliveryTag),
				Value:  delivery.Body,
				Cursor: delivery.DeliveryTag,
			})
		}

		if found {
			continue
		}
		if len(batch) > 0 || time.Now().After(deadline) {
			break
		}

		timer := time.NewTimer(rabbitMQEmptyPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return batch, nil
		case <-timer.C:
		}
	}
	return batch, nil
}

func (t *rabbitMQConsumerTransport) Heartbeat(ctx context.Context) error {
	if t.conn.IsClosed() || t.ch.IsClosed() {
		return errRabbitMQClosed
	}
	return nil
}

func (t *rabbitMQConsumerTransport) CommitBatch(ctx context.Context, resolved []ConsumedMessage) error {
	if len(resolved) == 0 {
		return nil
	}
	return t.ch.Ack(highestCursor(resolved), true)
}

func (t *rabbitMQConsumerTransport) RollbackBatch(ctx context.Context, batch []ConsumedMessage) error {
	if len(batch) == 0 {
		return nil
	}
	return t.ch.Nack(highestCursor(batch), true, true)
}

func (t *rabbitMQConsumerTransport) Close() error {
	return t.ch.Close()
}

func highestCursor(messages []ConsumedMessage) uint64 {
	var highest uint64
	for _, message := range messages {
		if message.Cursor > highest {
			highest = message.Cursor
		}
	}
	return highest
}

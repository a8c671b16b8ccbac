package channel

import (
	"context"
	"errors"
	"ipms-mediator/internal/pkg/constvars"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

const kafkaSeekTimeoutMs = 5000

type kafkaProducerTransport struct {
	producer *kafka.Producer
	log      *zap.Logger
}

// NewKafkaProducerTransport creates a transactional producer and registers
// its transactional id with the cluster, fencing any older instance that
// used the same id.
func NewKafkaProducerTransport(ctx context.Context, configMap *kafka.ConfigMap, logger *zap.Logger) (ProducerTransport, error) {
	producer, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, err
	}
	if err := producer.InitTransactions(ctx); err != nil {
		producer.Close()
		return nil, err
	}

	transport := &kafkaProducerTransport{producer: producer, log: logger}
	go transport.watchEvents()
	return transport, nil
}

// watchEvents logs client level errors; per message reports go to the
// delivery channel passed to Produce.
func (t *kafkaProducerTransport) watchEvents() {
	for event := range t.producer.Events() {
		if kafkaErr, ok := event.(kafka.Error); ok {
			t.log.Error("kafkaProducerTransport.watchEvents client error",
				zap.String(constvars.LoggingErrorCodeKey, kafkaErr.Code().String()),
				zap.Error(kafkaErr),
			)
		}
	}
}

func (t *kafkaProducerTransport) BeginTransaction(ctx context.Context) error {
	return t.producer.BeginTransaction()
}

func (t *kafkaProducerTransport) Produce(ctx context.Context, record Record) error {
	topic := record.Topic
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            record.Key,
		Value:          record.Value,
	}
	for key, value := range record.Headers {
		message.Headers = append(message.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	delivery := make(chan kafka.Event, 1)
	if err := t.producer.Produce(message, delivery); err != nil {
		return err
	}

	select {
	case event := <-delivery:
		delivered, ok := event.(*kafka.Message)
		if !ok {
			return errors.New("unexpected kafka delivery event")
		}
		return delivered.TopicPartition.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *kafkaProducerTransport) CommitTransaction(ctx context.Context) error {
	return t.producer.CommitTransaction(ctx)
}

func (t *kafkaProducerTransport) AbortTransaction(ctx context.Context) error {
	return t.producer.AbortTransaction(ctx)
}

func (t *kafkaProducerTransport) Close() error {
	t.producer.Flush(5000)
	t.producer.Close()
	return nil
}

type kafkaConsumerTransport struct {
	consumer *kafka.Consumer
	log      *zap.Logger
}

// NewKafkaConsumerTransport expects a config with auto commit disabled and
// read_committed isolation so aborted producer transactions stay invisible.
func NewKafkaConsumerTransport(configMap *kafka.ConfigMap, logger *zap.Logger) (ConsumerTransport, error) {
	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return nil, err
	}
	return &kafkaConsumerTransport{consumer: consumer, log: logger}, nil
}

func (t *kafkaConsumerTransport) Subscribe(ctx context.Context, topics []string) error {
	return t.consumer.SubscribeTopics(topics, nil)
}

func (t *kafkaConsumerTransport) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]ConsumedMessage, error) {
	deadline := time.Now().Add(wait)
	batch := make([]ConsumedMessage, 0, max)

	for len(batch) < max {
		if ctx.Err() != nil {
			break
		}
		remaining := time.Until(deadline)
		if len(batch) > 0 || remaining <= 0 {
			// Drain only what is already buffered once the batch has started.
			remaining = time.Millisecond
		}

		message, err := t.consumer.ReadMessage(remaining)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				break
			}
			return batch, err
		}

		batch = append(batch, ConsumedMessage{
			Topic:     *message.TopicPartition.Topic,
			Partition: message.TopicPartition.Partition,
			Offset:    int64(message.TopicPartition.Offset),
			Key:       message.Key,
			Value:     message.Value,
		})
	}
	return batch, nil
}

// Heartbeat confirms the consumer still holds a group assignment. librdkafka
// sends the protocol heartbeats from its own thread.
func (t *kafkaConsumerTransport) Heartbeat(ctx context.Context) error {
	_, err := t.consumer.Assignment()
	return err
}

func (t *kafkaConsumerTransport) CommitBatch(ctx context.Context, resolved []ConsumedMessage) error {
	if len(resolved) == 0 {
		return nil
	}
	_, err := t.consumer.CommitOffsets(nextOffsets(resolved))
	return err
}

func (t *kafkaConsumerTransport) RollbackBatch(ctx context.Context, batch []ConsumedMessage) error {
	for _, partition := range firstOffsets(batch) {
		if err := t.consumer.Seek(partition, kafkaSeekTimeoutMs); err != nil {
			return err
		}
	}
	return nil
}

func (t *kafkaConsumerTransport) Close() error {
	return t.consumer.Close()
}

type topicPartition struct {
	topic     string
	partition int32
}

// nextOffsets returns, per partition, the offset after the highest resolved
// message, which is what a commit must carry.
func nextOffsets(messages []ConsumedMessage) []kafka.TopicPartition {
	highest := map[topicPartition]int64{}
	var order []topicPartition
	for _, message := range messages {
		key := topicPartition{message.Topic, message.Partition}
		current, seen := highest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || message.Offset > current {
			highest[key] = message.Offset
		}
	}

	offsets := make([]kafka.TopicPartition, 0, len(order))
	for _, key := range order {
		topic := key.topic
		offsets = append(offsets, kafka.TopicPartition{
			Topic:     &topic,
			Partition: key.partition,
			Offset:    kafka.Offset(highest[key] + 1),
		})
	}
	return offsets
}

// firstOffsets returns, per partition, the lowest offset of the batch so a
// seek makes the whole batch readable again.
func firstOffsets(messages []ConsumedMessage) []kafka.TopicPartition {
	lowest := map[topicPartition]int64{}
	var order []topicPartition
	for _, message := range messages {
		key := topicPartition{message.Topic, message.Partition}
		current, seen := lowest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || message.Offset < current {
			lowest[key] = message.Offset
		}
	}

	offsets := make([]kafka.TopicPartition, 0, len(order))
	for _, key := range order {
		topic := key.topic
		offsets = append(offsets, kafka.TopicPartition{
			Topic:     &topic,
			Partition: key.partition,
			Offset:    kafka.Offset(lowest[key]),
		})
	}
	return offsets
}

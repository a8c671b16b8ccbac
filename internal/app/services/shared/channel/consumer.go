package channel

import (
	"context"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"time"

	"go.uber.org/zap"
)

// BatchConsumer reads a consumer group's topics in batches. A batch is
// committed only once every message in it has been handled; a handler error
// rolls the whole batch back for redelivery.
type BatchConsumer struct {
	transport ConsumerTransport
	group     string
	topics    []string
	batchSize int
	pollWait  time.Duration
	log       *zap.Logger
}

func NewBatchConsumer(transport ConsumerTransport, group string, topics []string, batchSize int, pollWait time.Duration, logger *zap.Logger) *BatchConsumer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchConsumer{
		transport: transport,
		group:     group,
		topics:    topics,
		batchSize: batchSize,
		pollWait:  pollWait,
		log:       logger,
	}
}

// Run subscribes and handles batches until ctx is done or a batch fails.
func (c *BatchConsumer) Run(ctx context.Context, handler contracts.MessageHandler) error {
	if err := c.transport.Subscribe(ctx, c.topics); err != nil {
		return exceptions.ErrBrokerConsume(err, c.group)
	}
	c.log.Info("BatchConsumer.Run subscribed",
		zap.String(constvars.LoggingConsumerGroupKey, c.group),
		zap.Strings(constvars.LoggingTopicKey, c.topics),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.ProcessBatch(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// ProcessBatch fetches and handles one batch, returning how many messages
// were committed.
func (c *BatchConsumer) ProcessBatch(ctx context.Context, handler contracts.MessageHandler) (int, error) {
	batch, err := c.transport.FetchBatch(ctx, c.batchSize, c.pollWait)
	if err != nil {
		c.log.Error("BatchConsumer.ProcessBatch error fetching batch",
			zap.String(constvars.LoggingConsumerGroupKey, c.group),
			zap.Error(err),
		)
		return 0, exceptions.ErrBrokerConsume(err, c.group)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	resolved := make([]ConsumedMessage, 0, len(batch))
	for _, message := range batch {
		if err := handler(ctx, message.Topic, message.Partition, message.Value); err != nil {
			c.log.Error("BatchConsumer.ProcessBatch handler failed, rolling back batch",
				zap.String(constvars.LoggingConsumerGroupKey, c.group),
				zap.String(constvars.LoggingTopicKey, message.Topic),
				zap.Int32(constvars.LoggingPartitionKey, message.Partition),
				zap.Int64(constvars.LoggingOffsetKey, message.Offset),
				zap.Int(constvars.LoggingBatchSizeKey, len(batch)),
				zap.Error(err),
			)
			c.rollback(ctx, batch)
			return 0, err
		}
		resolved = append(resolved, message)

		if err := c.transport.Heartbeat(ctx); err != nil {
			c.log.Error("BatchConsumer.ProcessBatch heartbeat failed, rolling back batch",
				zap.String(constvars.LoggingConsumerGroupKey, c.group),
				zap.Error(err),
			)
			c.rollback(ctx, batch)
			return 0, exceptions.ErrBrokerConsume(err, c.group)
		}
	}

	if err := c.transport.CommitBatch(ctx, resolved); err != nil {
		c.log.Error("BatchConsumer.ProcessBatch error committing batch",
			zap.String(constvars.LoggingConsumerGroupKey, c.group),
			zap.Int(constvars.LoggingBatchSizeKey, len(resolved)),
			zap.Error(err),
		)
		c.rollback(ctx, batch)
		return 0, exceptions.ErrBrokerCommit(err, c.group)
	}

	c.log.Debug("BatchConsumer.ProcessBatch committed",
		zap.String(constvars.LoggingConsumerGroupKey, c.group),
		zap.Int(constvars.LoggingBatchSizeKey, len(resolved)),
	)
	return len(resolved), nil
}

func (c *BatchConsumer) rollback(ctx context.Context, batch []ConsumedMessage) {
	if err := c.transport.RollbackBatch(context.WithoutCancel(ctx), batch); err != nil {
		c.log.Error("BatchConsumer.rollback error rolling back batch",
			zap.String(constvars.LoggingConsumerGroupKey, c.group),
			zap.Error(err),
		)
	}
}

func (c *BatchConsumer) Close() error {
	return c.transport.Close()
}

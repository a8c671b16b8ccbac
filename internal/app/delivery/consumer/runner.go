package consumer

import (
	"context"
	"errors"
	"time"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/utils"

	"go.uber.org/zap"
)

// BatchConsumer is satisfied by channel.BatchConsumer.
type BatchConsumer interface {
	Run(ctx context.Context, handler contracts.MessageHandler) error
	Close() error
}

type Executor interface {
	Execute(ctx context.Context, envelope messaging.Envelope) saga.Result
}

// Runner feeds consumed messages to the saga engine. A message is
// acknowledged once it either succeeded or has been dead-lettered; only a
// busy order or a failed dead-letter write sends the batch back.
type Runner struct {
	consumer    BatchConsumer
	engine      Executor
	deadLetter  contracts.DeadLetterSink
	restartWait time.Duration
	log         *zap.Logger
}

func NewRunner(consumer BatchConsumer, engine Executor, deadLetter contracts.DeadLetterSink, restartWait time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		consumer:    consumer,
		engine:      engine,
		deadLetter:  deadLetter,
		restartWait: restartWait,
		log:         logger,
	}
}

// Run consumes until ctx is cancelled. A consumer that stops with an error
// is restarted after restartWait.
func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.consumer.Run(ctx, r.Handle)
		if ctx.Err() != nil {
			r.log.Info("Runner.Run stopped")
			return nil
		}

		r.log.Error("Runner.Run consumer stopped, restarting",
			zap.Duration(constvars.LoggingRestartDelayKey, r.restartWait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.restartWait):
		}
	}
}

func (r *Runner) Close() error {
	return r.consumer.Close()
}

// Handle runs one consumed message through the engine.
func (r *Runner) Handle(ctx context.Context, topic string, partition int32, message []byte) error {
	ctx = utils.WithRequestID(ctx, utils.GenerateRequestID())
	requestID := utils.GetRequestID(ctx)

	envelope, err := messaging.Decode(message, topic)
	if err != nil {
		r.log.Error("Runner.Handle undecodable message",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, topic),
			zap.Int32(constvars.LoggingPartitionKey, partition),
			zap.Error(err),
		)
		return r.sendDeadLetter(ctx, message, topic, exceptions.ErrEnvelopeDecode(err, topic))
	}

	result := r.engine.Execute(ctx, envelope)
	if result.Success {
		return nil
	}

	switch {
	case errors.Is(result.Err, saga.ErrOrderBusy):
		return result.Err
	case errors.Is(result.Err, retry.ErrDeadLetterUnavailable):
		return result.Err
	case retry.IsTerminal(result.Err):
		r.log.Warn("Runner.Handle step exhausted its retries, already dead-lettered",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, envelope.Topic),
			zap.Error(result.Err),
		)
		return nil
	}

	r.log.Error("Runner.Handle step failed",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTopicKey, envelope.Topic),
		zap.String(constvars.LoggingEnvelopeKindKey, string(envelope.Kind)),
		zap.Error(result.Err),
	)
	return r.sendDeadLetter(ctx, message, envelope.Topic, result.Err)
}

func (r *Runner) sendDeadLetter(ctx context.Context, message []byte, topic string, cause error) error {
	record := messaging.NewDeadLetterRecord(message, topic, cause, 1)
	if err := r.deadLetter.SendDeadLetter(context.WithoutCancel(ctx), record); err != nil {
		r.log.Error("Runner.sendDeadLetter error writing dead-letter record",
			zap.String(constvars.LoggingRequestIDKey, utils.GetRequestID(ctx)),
			zap.String(constvars.LoggingTopicKey, topic),
			zap.Error(err),
		)
		return err
	}
	return nil
}

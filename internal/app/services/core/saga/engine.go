package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/app/services/shared/locker"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"go.uber.org/zap"
)

// ErrOrderBusy is wrapped by the Result error when the order lock could not
// be taken. The message must be redelivered rather than dead-lettered.
var ErrOrderBusy = errors.New("order is locked by another step")

// Result is what every step and entry point reports. Success false is a
// value, not a panic or a lost error: the caller decides what happens to the
// trigger.
type Result struct {
	Success bool
	Bundle  *fhir_dto.FHIRBundle
	Err     error
}

func Succeeded(bundle *fhir_dto.FHIRBundle) Result {
	return Result{Success: true, Bundle: bundle}
}

func Failed(bundle *fhir_dto.FHIRBundle, err error) Result {
	return Result{Success: false, Bundle: bundle, Err: err}
}

// StepFunc runs one step for the envelope it was addressed with.
type StepFunc func(ctx context.Context, envelope messaging.Envelope) Result

// StepTable maps a topic to the step consuming it. A workflow variant is a
// different table handed to the same Engine.
type StepTable map[string]StepFunc

func (t StepTable) Topics() []string {
	topics := make([]string, 0, len(t))
	for topic := range t {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Engine dispatches envelopes to their step. Steps touching the same order
// are serialized through a distributed lock keyed on the Task id, and every
// execution is journaled.
type Engine struct {
	steps   StepTable
	locker  contracts.LockerService
	journal contracts.SagaJournal
	lock    config.Lock
	log     *zap.Logger
}

func NewEngine(steps StepTable, lockerService contracts.LockerService, journal contracts.SagaJournal, lockConfig config.Lock, logger *zap.Logger) *Engine {
	return &Engine{
		steps:   steps,
		locker:  lockerService,
		journal: journal,
		lock:    lockConfig,
		log:     logger,
	}
}

func (e *Engine) Topics() []string {
	return e.steps.Topics()
}

func (e *Engine) Execute(ctx context.Context, envelope messaging.Envelope) Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	start := time.Now()

	step, ok := e.steps[envelope.Topic]
	if !ok {
		err := exceptions.ErrStepNotRegistered(nil, envelope.Topic)
		e.log.Error("Engine.Execute no step for topic",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, envelope.Topic),
		)
		return Failed(nil, err)
	}

	taskID := orderKey(envelope)
	var result Result
	run := func(ctx context.Context) error {
		result = e.runStep(ctx, step, envelope)
		return nil
	}

	if taskID == "" || e.locker == nil {
		_ = run(ctx)
	} else {
		key := fmt.Sprintf(constvars.RedisKeyOrderLockFormat, taskID)
		if err := locker.WithLock(ctx, e.locker, key, e.lock.TTL, e.lock.Attempts, e.lock.RetryDelay, run); err != nil {
			e.log.Warn("Engine.Execute order lock unavailable",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingTopicKey, envelope.Topic),
				zap.String(constvars.LoggingTaskIDKey, taskID),
				zap.Error(err),
			)
			result = Failed(envelope.Bundle, errors.Join(ErrOrderBusy, err))
		}
	}

	e.record(ctx, envelope, taskID, result, time.Since(start))
	return result
}

// runStep converts a panicking step into a failed Result so one malformed
// order cannot take the consumer down with it.
func (e *Engine) runStep(ctx context.Context, step StepFunc, envelope messaging.Envelope) (result Result) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	defer func() {
		if recovered := recover(); recovered != nil {
			e.log.Error("Engine.runStep step panicked",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingTopicKey, envelope.Topic),
				zap.Any(constvars.LoggingDataKey, recovered),
			)
			result = Failed(envelope.Bundle, fmt.Errorf("step %s panicked: %v", envelope.Topic, recovered))
		}
	}()
	return step(ctx, envelope)
}

func (e *Engine) record(ctx context.Context, envelope messaging.Envelope, taskID string, result Result, duration time.Duration) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	fields := []zap.Field{
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTopicKey, envelope.Topic),
		zap.String(constvars.LoggingTaskIDKey, taskID),
		zap.String(constvars.LoggingEnvelopeKindKey, string(envelope.Kind)),
		zap.Bool(constvars.LoggingSuccessKey, result.Success),
		zap.Duration(constvars.LoggingDurationKey, duration),
	}
	if result.Success {
		e.log.Info("Engine.Execute step completed", fields...)
	} else {
		e.log.Error("Engine.Execute step failed", append(fields, zap.Error(result.Err))...)
	}

	if e.journal == nil {
		return
	}
	entry := workflow.JournalEntry{
		Topic:     envelope.Topic,
		TaskID:    taskID,
		Kind:      string(envelope.Kind),
		Success:   result.Success,
		Duration:  duration,
		CreatedAt: time.Now().UTC(),
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	if err := e.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn("Engine.record error writing journal entry",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, envelope.Topic),
			zap.Error(err),
		)
	}
}

// orderKey is the Task id of a bundle envelope. Raw messages and patients are
// not yet tied to an order.
func orderKey(envelope messaging.Envelope) string {
	if envelope.Kind != messaging.KindBundle || envelope.Bundle == nil {
		return ""
	}
	_, task, err := tasks.FindTask(envelope.Bundle)
	if err != nil {
		return ""
	}
	return task.ID
}

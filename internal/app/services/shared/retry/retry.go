package retry

import (
	"context"
	"errors"
	"fmt"
	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrUnacceptableResult marks an attempt that returned without error but
// whose result the caller rejected.
var ErrUnacceptableResult = errors.New("operation result rejected")

// ErrDeadLetterUnavailable is joined into the error returned when the
// attempt budget is spent and the dead-letter write failed too. The trigger
// must then be redelivered.
var ErrDeadLetterUnavailable = errors.New("dead-letter write failed")

// Policy bounds one retried operation.
type Policy struct {
	Operation    string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	DeadLetter   *DeadLetter
	// Timer replaces the wall clock between attempts; nil uses real timers.
	Timer backoff.Timer
}

// DeadLetter names where an exhausted operation is captured.
type DeadLetter struct {
	Sink       contracts.DeadLetterSink
	Topic      string
	Payload    []byte
	TargetHost string
	TargetPort int
}

// NewPolicy reads the shared retry budget from configuration.
func NewPolicy(retryConfig config.Retry, operation string) Policy {
	return Policy{
		Operation:    operation,
		MaxAttempts:  retryConfig.MaxAttempts,
		InitialDelay: retryConfig.InitialDelay,
		MaxDelay:     retryConfig.MaxDelay,
	}
}

func (p Policy) WithDeadLetter(deadLetter *DeadLetter) Policy {
	p.DeadLetter = deadLetter
	return p
}

// TerminalError is returned once the attempt budget is spent and the
// dead-letter record has been written. The original trigger must not be
// redelivered: the dead-letter record is now the durable copy.
type TerminalError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts, dead-lettered: %v", e.Operation, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// Permanent stops retrying immediately and returns err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, with the delay doubling from
// policy.InitialDelay between attempts. isFailure may reject a result that
// came back without error. The wait honours ctx.
func Do[T any](ctx context.Context, log *zap.Logger, policy Policy, op func(ctx context.Context) (T, error), isFailure func(T) bool) (T, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialDelay
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0
	if policy.MaxDelay > 0 {
		exponential.MaxInterval = policy.MaxDelay
	}
	schedule := backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(maxAttempts-1)), ctx)

	var (
		result   T
		lastErr  error
		attempts int
	)
	attempt := func() error {
		attempts++
		value, err := op(ctx)
		if err == nil && isFailure != nil && isFailure(value) {
			err = ErrUnacceptableResult
		}
		result, lastErr = value, err
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("retry.Do attempt failed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingOperationKey, policy.Operation),
			zap.Int(constvars.LoggingAttemptKey, attempts),
			zap.Int(constvars.LoggingMaxAttemptsKey, maxAttempts),
			zap.Duration(constvars.LoggingDurationKey, next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(attempt, schedule, notify, policy.Timer)
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(lastErr, &permanent) {
		return result, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	log.Error("retry.Do attempts exhausted",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingOperationKey, policy.Operation),
		zap.Int(constvars.LoggingAttemptKey, attempts),
		zap.Error(lastErr),
	)

	if policy.DeadLetter == nil || policy.DeadLetter.Sink == nil {
		return result, exceptions.ErrRetryExhausted(lastErr, policy.Operation, attempts)
	}

	record := messaging.NewDeadLetterRecord(policy.DeadLetter.Payload, policy.DeadLetter.Topic, lastErr, attempts)
	record.TargetHost = policy.DeadLetter.TargetHost
	record.TargetPort = policy.DeadLetter.TargetPort

	if dlqErr := policy.DeadLetter.Sink.SendDeadLetter(context.WithoutCancel(ctx), record); dlqErr != nil {
		log.Error("retry.Do error writing dead-letter record",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingOperationKey, policy.Operation),
			zap.String(constvars.LoggingTopicKey, policy.DeadLetter.Topic),
			zap.Error(dlqErr),
		)
		return result, exceptions.ErrDeadLetterPublish(errors.Join(ErrDeadLetterUnavailable, lastErr, dlqErr), policy.DeadLetter.Topic)
	}

	return result, &TerminalError{Operation: policy.Operation, Attempts: attempts, Err: lastErr}
}

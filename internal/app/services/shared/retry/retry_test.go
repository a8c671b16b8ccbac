package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ipms-mediator/internal/pkg/dto/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type instantTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func (t *instantTimer) Start(duration time.Duration) {
	t.delays = append(t.delays, duration)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

type recordingSink struct {
	mu      sync.Mutex
	records []messaging.DeadLetterRecord
	err     error
}

func (s *recordingSink) SendDeadLetter(ctx context.Context, record messaging.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return s.err
}

func testPolicy(maxAttempts int, timer *instantTimer) Policy {
	return Policy{
		Operation:    "test-operation",
		MaxAttempts:  maxAttempts,
		InitialDelay: 10 * time.Millisecond,
		Timer:        timer,
	}
}

func TestDoSucceedsOnAttemptN(t *testing.T) {
	for _, succeedOn := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("Succeeds On Attempt %d", succeedOn), func(t *testing.T) {
			calls := 0
			result, err := Do(context.Background(), zap.NewNop(), testPolicy(4, &instantTimer{}), func(ctx context.Context) (string, error) {
				calls++
				if calls < succeedOn {
					return "", errors.New("transient")
				}
				return "ok", nil
			}, nil)

			require.NoError(t, err)
			assert.Equal(t, "ok", result)
			assert.Equal(t, succeedOn, calls)
		})
	}
}

func TestDoBackoffDoubles(t *testing.T) {
	timer := &instantTimer{}
	_, _ = Do(context.Background(), zap.NewNop(), testPolicy(4, timer), func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	}, nil)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, timer.delays)
}

func TestDoDeadLettersAfterExhaustion(t *testing.T) {
	sink := &recordingSink{}
	policy := testPolicy(3, &instantTimer{}).WithDeadLetter(&DeadLetter{
		Sink:    sink,
		Topic:   "send-adt-to-ipms",
		Payload: []byte(`{"kind":"bundle"}`),
	})

	calls := 0
	_, err := Do(context.Background(), zap.NewNop(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("connection reset")
	}, nil)

	assert.Equal(t, 3, calls)
	assert.True(t, IsTerminal(err))
	require.Len(t, sink.records, 1)
	assert.Equal(t, 3, sink.records[0].Attempts)
	assert.Equal(t, "send-adt-to-ipms", sink.records[0].Topic)
	assert.Equal(t, "connection reset", sink.records[0].LastError)
	assert.JSONEq(t, `{"kind":"bundle"}`, string(sink.records[0].OriginalPayload))
}

func TestDoRejectedResult(t *testing.T) {
	sink := &recordingSink{}
	policy := testPolicy(2, &instantTimer{}).WithDeadLetter(&DeadLetter{Sink: sink, Topic: "t"})

	result, err := Do(context.Background(), zap.NewNop(), policy, func(ctx context.Context) (string, error) {
		return "AE", nil
	}, func(ack string) bool { return ack != "AA" })

	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrUnacceptableResult)
	assert.Equal(t, "AE", result)
	require.Len(t, sink.records, 1)
}

func TestDoDeadLetterFailureIsNotTerminal(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	policy := testPolicy(1, &instantTimer{}).WithDeadLetter(&DeadLetter{Sink: sink, Topic: "t"})

	_, err := Do(context.Background(), zap.NewNop(), policy, func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.False(t, IsTerminal(err), "the trigger must be redelivered when the dead-letter write fails")
	assert.ErrorIs(t, err, ErrDeadLetterUnavailable)
}

func TestDoWithoutSink(t *testing.T) {
	_, err := Do(context.Background(), zap.NewNop(), testPolicy(2, &instantTimer{}), func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.False(t, IsTerminal(err))
	assert.Contains(t, err.Error(), "test-operation failed after 2 attempts")
}

func TestDoPermanentStopsEarly(t *testing.T) {
	sink := &recordingSink{}
	invalid := errors.New("invalid payload")
	policy := testPolicy(5, &instantTimer{}).WithDeadLetter(&DeadLetter{Sink: sink, Topic: "t"})

	calls := 0
	_, err := Do(context.Background(), zap.NewNop(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", Permanent(invalid)
	}, nil)

	assert.ErrorIs(t, err, invalid)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sink.records)
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	policy := testPolicy(5, nil).WithDeadLetter(&DeadLetter{Sink: sink, Topic: "t"})
	policy.Timer = nil
	policy.InitialDelay = time.Hour

	calls := 0
	_, err := Do(ctx, zap.NewNop(), policy, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", errors.New("boom")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sink.records)
}

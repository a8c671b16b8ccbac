package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/dto/messaging"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProducerTransport keeps committed records and the records of the open
// transaction apart, the way a transactional broker does.
type fakeProducerTransport struct {
	mu         sync.Mutex
	pending    []Record
	committed  []Record
	aborts     int
	failTopics map[string]int
}

func (f *fakeProducerTransport) BeginTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	return nil
}

func (f *fakeProducerTransport) Produce(ctx context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining := f.failTopics[record.Topic]; remaining != 0 {
		if remaining > 0 {
			f.failTopics[record.Topic] = remaining - 1
		}
		return errors.New("broker unavailable")
	}
	f.pending = append(f.pending, record)
	return nil
}

func (f *fakeProducerTransport) CommitTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, f.pending...)
	f.pending = nil
	return nil
}

func (f *fakeProducerTransport) AbortTransaction(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.aborts++
	return nil
}

func (f *fakeProducerTransport) Close() error { return nil }

func (f *fakeProducerTransport) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	topics := make([]string, 0, len(f.committed))
	for _, record := range f.committed {
		topics = append(topics, record.Topic)
	}
	return topics
}

type immediateTimer struct{ c chan time.Time }

func (t *immediateTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}
func (t *immediateTimer) Stop()                 {}
func (t *immediateTimer) C() <-chan time.Time { return t.c }

func newTestProducer(transport *fakeProducerTransport) *TransactionalProducer {
	producer := NewTransactionalProducer(transport, "dmq", zap.NewNop())
	producer.timer = &immediateTimer{}
	return producer
}

func TestTransactionalProducerSend(t *testing.T) {
	t.Run("Commits Every Record", func(t *testing.T) {
		transport := &fakeProducerTransport{}
		producer := newTestProducer(transport)

		err := producer.Send(context.Background(),
			messaging.NewMessageEnvelope("handle-adt-from-ipms", "MSH|a"),
			messaging.NewMessageEnvelope("handle-oru-from-ipms", "MSH|b"),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"handle-adt-from-ipms", "handle-oru-from-ipms"}, transport.topics())
	})

	t.Run("Aborts Whole Transaction On Failure", func(t *testing.T) {
		transport := &fakeProducerTransport{failTopics: map[string]int{"handle-oru-from-ipms": -1}}
		producer := newTestProducer(transport)

		err := producer.Send(context.Background(),
			messaging.NewMessageEnvelope("handle-adt-from-ipms", "MSH|a"),
			messaging.NewMessageEnvelope("handle-oru-from-ipms", "MSH|b"),
		)
		require.Error(t, err)
		assert.Empty(t, transport.topics(), "no record of an aborted transaction may be visible")
		assert.Equal(t, 1, transport.aborts)
	})
}

func TestSendWithRetryToDeadLetter(t *testing.T) {
	envelope := messaging.NewMessageEnvelope("", "MSH|a")

	t.Run("Recovers Within Budget", func(t *testing.T) {
		transport := &fakeProducerTransport{failTopics: map[string]int{"save-ipms-patient": 2}}
		producer := newTestProducer(transport)

		err := producer.SendWithRetryToDeadLetter(context.Background(), envelope, "save-ipms-patient", 3, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, []string{"save-ipms-patient"}, transport.topics())
	})

	t.Run("Dead Letters After Budget", func(t *testing.T) {
		transport := &fakeProducerTransport{failTopics: map[string]int{"save-ipms-patient": -1}}
		producer := newTestProducer(transport)

		err := producer.SendWithRetryToDeadLetter(context.Background(), envelope, "save-ipms-patient", 3, time.Millisecond)
		assert.True(t, retry.IsTerminal(err))
		require.Equal(t, []string{"dmq"}, transport.topics())

		var record messaging.DeadLetterRecord
		require.NoError(t, json.Unmarshal(transport.committed[0].Value, &record))
		assert.Equal(t, "save-ipms-patient", record.Topic)
		assert.Equal(t, 3, record.Attempts)
		assert.NotEmpty(t, record.LastError)

		replayed, err := messaging.Decode(record.OriginalPayload, "")
		require.NoError(t, err)
		assert.Equal(t, "MSH|a", replayed.Message)
		assert.Equal(t, "save-ipms-patient", replayed.Topic)
	})
}

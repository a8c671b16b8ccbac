package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLog is a single partition log with a committed offset. Reads resume
// from the read position; a rollback rewinds it to the committed offset, the
// same thing a restarted consumer observes.
type fakeLog struct {
	messages  []ConsumedMessage
	position  int
	committed int
	commits   int
}

func newFakeLog(values ...string) *fakeLog {
	log := &fakeLog{}
	for i, value := range values {
		log.messages = append(log.messages, ConsumedMessage{
			Topic:  "send-adt-to-ipms",
			Offset: int64(i),
			Value:  []byte(value),
		})
	}
	return log
}

func (f *fakeLog) Subscribe(ctx context.Context, topics []string) error { return nil }

func (f *fakeLog) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]ConsumedMessage, error) {
	end := f.position + max
	if end > len(f.messages) {
		end = len(f.messages)
	}
	batch := f.messages[f.position:end]
	f.position = end
	return batch, nil
}

func (f *fakeLog) Heartbeat(ctx context.Context) error { return nil }

func (f *fakeLog) CommitBatch(ctx context.Context, resolved []ConsumedMessage) error {
	f.commits++
	f.committed = int(resolved[len(resolved)-1].Offset) + 1
	return nil
}

func (f *fakeLog) RollbackBatch(ctx context.Context, batch []ConsumedMessage) error {
	f.position = f.committed
	return nil
}

func (f *fakeLog) Close() error { return nil }

func TestBatchConsumerCrashRecovery(t *testing.T) {
	log := newFakeLog("m1", "m2", "m3")
	consumer := NewBatchConsumer(log, "ipms-mediator", []string{"send-adt-to-ipms"}, 3, time.Millisecond, zap.NewNop())

	var seen []string
	crash := errors.New("handler crashed")
	_, err := consumer.ProcessBatch(context.Background(), func(ctx context.Context, topic string, partition int32, message []byte) error {
		seen = append(seen, string(message))
		if string(message) == "m2" {
			return crash
		}
		return nil
	})

	assert.ErrorIs(t, err, crash)
	assert.Equal(t, []string{"m1", "m2"}, seen)
	assert.Equal(t, 0, log.commits, "a failed batch must not be committed")
	assert.Equal(t, 0, log.committed)

	seen = nil
	processed, err := consumer.ProcessBatch(context.Background(), func(ctx context.Context, topic string, partition int32, message []byte) error {
		seen = append(seen, string(message))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.Equal(t, []string{"m1", "m2", "m3"}, seen)
	assert.Equal(t, 1, log.commits)
	assert.Equal(t, 3, log.committed)
}

func TestBatchConsumerRunStopsOnCancel(t *testing.T) {
	log := newFakeLog("m1")
	consumer := NewBatchConsumer(log, "ipms-mediator", []string{"send-adt-to-ipms"}, 10, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	err := consumer.Run(ctx, func(ctx context.Context, topic string, partition int32, message []byte) error {
		cancel()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, log.committed)
}

func TestKafkaOffsetHelpers(t *testing.T) {
	batch := []ConsumedMessage{
		{Topic: "a", Partition: 0, Offset: 7},
		{Topic: "a", Partition: 1, Offset: 3},
		{Topic: "a", Partition: 0, Offset: 5},
	}

	next := nextOffsets(batch)
	require.Len(t, next, 2)
	assert.EqualValues(t, 8, next[0].Offset)
	assert.EqualValues(t, 4, next[1].Offset)

	first := firstOffsets(batch)
	require.Len(t, first, 2)
	assert.EqualValues(t, 5, first[0].Offset)
	assert.EqualValues(t, 3, first[1].Offset)

	assert.EqualValues(t, 9, highestCursor([]ConsumedMessage{{Cursor: 4}, {Cursor: 9}, {Cursor: 2}}))
}

package hl7sender

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/hl7"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adtMessage = "MSH|^~\\&|MEDIATOR|SHR|IPMS|HOSP|20240101120000||ADT^A04|MSG0001|P|2.5\nPID|1||12345"

type recordingSink struct {
	mu      sync.Mutex
	records []messaging.DeadLetterRecord
}

func (s *recordingSink) SendDeadLetter(ctx context.Context, record messaging.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

type immediateTimer struct{ c chan time.Time }

func (t *immediateTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}
func (t *immediateTimer) Stop()                 {}
func (t *immediateTimer) C() <-chan time.Time { return t.c }

// ackingPeer reads one frame per exchange and answers with an ACK carrying
// code. Received payloads are reported on the returned channel.
func ackingPeer(conn net.Conn, code string) <-chan string {
	received := make(chan string, 4)
	go func() {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			frame, err := hl7.ReadFrame(reader)
			if err != nil {
				close(received)
				return
			}
			received <- string(frame)
			ack := "MSH|^~\\&|IPMS|HOSP|MEDIATOR|SHR|20240101120001||ACK^A04^ACK|ACK0001|P|2.5\rMSA|" + code + "|MSG0001"
			if _, err := conn.Write(hl7.Frame([]byte(ack))); err != nil {
				return
			}
		}
	}()
	return received
}

func newTestSender(dialer Dialer, sink *recordingSink) *Sender {
	sender := newSender("ipms.local", 2575, Options{
		AckTimeout: time.Second,
		RetryDelay: time.Millisecond,
		DeadLetter: sink,
		Dialer:     dialer,
	}, zap.NewNop())
	sender.timer = &immediateTimer{}
	return sender
}

func TestSenderSend(t *testing.T) {
	t.Run("Succeeds After Transient Failures", func(t *testing.T) {
		var (
			calls    int
			received <-chan string
		)
		dialer := func(ctx context.Context, address string) (net.Conn, error) {
			calls++
			assert.Equal(t, "ipms.local:2575", address)
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			received = ackingPeer(server, hl7.AckAccept)
			return client, nil
		}
		sink := &recordingSink{}
		sender := newTestSender(dialer, sink)
		defer sender.Close()

		ack, err := sender.Send(context.Background(), adtMessage, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, hl7.IsAccepted(ack))
		assert.Empty(t, sink.records)

		payload := <-received
		assert.False(t, strings.Contains(payload, "\n"), "segments must be terminated with a carriage return")
		assert.Contains(t, payload, "ADT^A04|MSG0001")
	})

	t.Run("Dead Letters When Retries Are Exhausted", func(t *testing.T) {
		var calls int
		dialer := func(ctx context.Context, address string) (net.Conn, error) {
			calls++
			return nil, errors.New("connection refused")
		}
		sink := &recordingSink{}
		sender := newTestSender(dialer, sink)

		_, err := sender.Send(context.Background(), adtMessage, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.True(t, retry.IsTerminal(err))
		assert.Equal(t, 2, calls)

		require.Len(t, sink.records, 1)
		record := sink.records[0]
		assert.Equal(t, "ipms.local", record.TargetHost)
		assert.Equal(t, 2575, record.TargetPort)
		assert.Equal(t, 2, record.Attempts)
		assert.Contains(t, string(record.OriginalPayload), "ADT^A04")
	})

	t.Run("Reuses The Connection", func(t *testing.T) {
		var calls int
		dialer := func(ctx context.Context, address string) (net.Conn, error) {
			calls++
			client, server := net.Pipe()
			ackingPeer(server, hl7.AckError)
			return client, nil
		}
		sender := newTestSender(dialer, &recordingSink{})
		defer sender.Close()

		for i := 0; i < 3; i++ {
			ack, err := sender.Send(context.Background(), adtMessage, 0)
			require.NoError(t, err)
			assert.False(t, hl7.IsAccepted(ack))
		}
		assert.Equal(t, 1, calls)
	})
}

func TestPoolSharesSenderPerEndpoint(t *testing.T) {
	pool := NewPool(Options{}, zap.NewNop())

	first := pool.Get("ipms.local", 2575)
	assert.Same(t, first, pool.Get("ipms.local", 2575))
	assert.NotSame(t, first, pool.Get("ipms.local", 2576))
	assert.NoError(t, pool.Close())
}

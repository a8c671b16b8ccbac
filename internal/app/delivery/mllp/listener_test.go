package mllp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/hl7"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHandler struct {
	mu       sync.Mutex
	received []string
	publish  error
}

func (f *fakeHandler) AcceptInboundHL7(ctx context.Context, raw string) (*hl7.Message, string, error) {
	f.mu.Lock()
	f.received = append(f.received, raw)
	f.mu.Unlock()

	message, err := hl7.Parse(hl7.NormalizeSegments(raw))
	if err != nil {
		return nil, "", exceptions.ErrHL7Parse(err)
	}
	switch message.MessageCode() {
	case "ORU":
		if f.publish != nil {
			return message, constvars.TopicHandleORUFromIPMS, f.publish
		}
		return message, constvars.TopicHandleORUFromIPMS, nil
	case "ADT":
		return message, constvars.TopicHandleADTFromIPMS, nil
	default:
		return message, "", exceptions.ErrHL7UnsupportedType(nil, message.Type)
	}
}

func startListener(t *testing.T, handler InboundHL7Handler) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	listener := NewListener(ln.Addr().String(), handler, time.Second, zap.NewNop())
	listener.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx, ln) }()
	return ln.Addr().String(), cancel, done
}

func exchange(t *testing.T, conn net.Conn, reader *bufio.Reader, message string) *hl7.Message {
	t.Helper()
	_, err := conn.Write(hl7.Frame([]byte(message)))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := hl7.ReadFrame(reader)
	require.NoError(t, err)

	ack, err := hl7.Parse(string(frame))
	require.NoError(t, err)
	return ack
}

func ackCode(t *testing.T, ack *hl7.Message) (string, string) {
	t.Helper()
	msa, ok := ack.Segment("MSA")
	require.True(t, ok, "ACK carries an MSA segment")
	return msa.Field(1), msa.Field(2)
}

func TestListenerAcknowledges(t *testing.T) {
	handler := &fakeHandler{}
	address, cancel, done := startListener(t, handler)
	defer cancel()

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	testCases := []struct {
		name     string
		message  string
		wantCode string
		wantEcho string
		wantType string
	}{
		{
			name:     "Result Accepted",
			message:  "MSH|^~\\&|IPMS|KPH|MEDIATOR|SHR|20240301093000||ORU^R01|ORU1|P|2.5\rOBR|1",
			wantCode: hl7.AckAccept,
			wantEcho: "ORU1",
			wantType: "ACK^R01^ACK",
		},
		{
			name:     "Admission Accepted",
			message:  "MSH|^~\\&|IPMS|KPH|MEDIATOR|SHR|20240301093000||ADT^A04|ADT1|P|2.5\nPID|1",
			wantCode: hl7.AckAccept,
			wantEcho: "ADT1",
			wantType: "ACK^A04^ACK",
		},
		{
			name:     "Unsupported Type Rejected",
			message:  "MSH|^~\\&|IPMS|KPH|MEDIATOR|SHR|20240301093000||SIU^S12|SIU1|P|2.5",
			wantCode: hl7.AckReject,
			wantEcho: "SIU1",
			wantType: "ACK^S12^ACK",
		},
		{
			name:     "Malformed Rejected",
			message:  "PID|1|no header",
			wantCode: hl7.AckReject,
			wantType: "ACK",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ack := exchange(t, conn, reader, tc.message)

			code, echoed := ackCode(t, ack)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantEcho, echoed)
			assert.Equal(t, tc.wantType, ack.Type)
			assert.NotEmpty(t, ack.ControlID)
		})
	}

	handler.mu.Lock()
	assert.Len(t, handler.received, len(testCases), "one connection carries many frames")
	handler.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerPublishFailure(t *testing.T) {
	handler := &fakeHandler{publish: errors.New("broker down")}
	address, cancel, _ := startListener(t, handler)
	defer cancel()

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()

	ack := exchange(t, conn, bufio.NewReader(conn), "MSH|^~\\&|IPMS|KPH|MEDIATOR|SHR|20240301093000||ORU^R01|ORU2|P|2.5")

	code, echoed := ackCode(t, ack)
	assert.Equal(t, hl7.AckError, code)
	assert.Equal(t, "ORU2", echoed)
	assert.Equal(t, "MEDIATOR", ack.SendingApp, "sender and receiver are swapped")
	assert.Equal(t, "IPMS", ack.ReceivingApp)
}

func TestListenerStopsWithOpenConnection(t *testing.T) {
	address, cancel, done := startListener(t, &fakeHandler{})

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop while a connection was idle")
	}
}

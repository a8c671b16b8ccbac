package hl7sender

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/hl7"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Dialer opens the transport to a remote endpoint.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

type Options struct {
	DialTimeout time.Duration
	AckTimeout  time.Duration
	RetryDelay  time.Duration
	DeadLetter  contracts.DeadLetterSink
	Dialer      Dialer
}

// Sender owns one long-lived MLLP connection to a single endpoint. Exchanges
// are serialized: HL7 over MLLP pairs each frame with the next ACK read.
type Sender struct {
	host    string
	port    int
	address string
	options Options
	log     *zap.Logger
	timer   backoff.Timer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func newSender(host string, port int, options Options, logger *zap.Logger) *Sender {
	if options.Dialer == nil {
		dialTimeout := options.DialTimeout
		options.Dialer = func(ctx context.Context, address string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: dialTimeout}
			return dialer.DialContext(ctx, constvars.NetworkTCP, address)
		}
	}
	return &Sender{
		host:    host,
		port:    port,
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		options: options,
		log:     logger,
	}
}

// Send transmits message and returns the raw acknowledgment. After a failed
// attempt it tries again up to retries more times with a fixed delay. When
// every attempt failed the message is dead-lettered with the target address
// and the last transport error is returned.
func (s *Sender) Send(ctx context.Context, message string, retries int) (string, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	if retries < 0 {
		retries = 0
	}

	payload := hl7.Frame([]byte(hl7.NormalizeSegments(message)))

	var (
		ack      string
		attempts int
		lastErr  error
	)
	exchange := func() error {
		attempts++
		reply, err := s.exchange(ctx, payload)
		if err != nil {
			lastErr = err
			return err
		}
		ack = reply
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("Sender.Send attempt failed, retrying",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTargetHostKey, s.host),
			zap.Int(constvars.LoggingTargetPortKey, s.port),
			zap.Int(constvars.LoggingAttemptKey, attempts),
			zap.Int(constvars.LoggingRetriesRemainingKey, retries-attempts+1),
			zap.Duration(constvars.LoggingDurationKey, next),
			zap.Error(err),
		)
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.options.RetryDelay), uint64(retries)),
		ctx,
	)
	if err := backoff.RetryNotifyWithTimer(exchange, schedule, notify, s.timer); err == nil {
		return ack, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	s.log.Error("Sender.Send retries exhausted",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTargetHostKey, s.host),
		zap.Int(constvars.LoggingTargetPortKey, s.port),
		zap.Int(constvars.LoggingAttemptKey, attempts),
		zap.Error(lastErr),
	)
	if s.deadLetter(ctx, requestID, message, lastErr, attempts) {
		return "", &retry.TerminalError{Operation: "mllp send " + s.address, Attempts: attempts, Err: lastErr}
	}
	return "", lastErr
}

// deadLetter reports whether the message was captured on the dead-letter
// topic.
func (s *Sender) deadLetter(ctx context.Context, requestID, message string, lastErr error, attempts int) bool {
	if s.options.DeadLetter == nil {
		return false
	}
	record := messaging.NewDeadLetterRecord([]byte(message), constvars.TopicSendHL7, lastErr, attempts)
	record.TargetHost = s.host
	record.TargetPort = s.port
	if err := s.options.DeadLetter.SendDeadLetter(context.WithoutCancel(ctx), record); err != nil {
		s.log.Error("Sender.deadLetter error writing dead-letter record",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTargetHostKey, s.host),
			zap.Int(constvars.LoggingTargetPortKey, s.port),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Sender) exchange(ctx context.Context, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.options.Dialer(ctx, s.address)
		if err != nil {
			return "", exceptions.ErrMLLPDial(err, s.address)
		}
		s.conn = conn
		s.reader = bufio.NewReader(conn)
	}

	if s.options.AckTimeout > 0 {
		deadline := time.Now().Add(s.options.AckTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		_ = s.conn.SetDeadline(deadline)
	}

	if _, err := s.conn.Write(payload); err != nil {
		s.reset()
		return "", exceptions.ErrMLLPWrite(err, s.address)
	}

	reply, err := hl7.ReadFrame(s.reader)
	if err != nil {
		s.reset()
		return "", exceptions.ErrMLLPRead(err, s.address)
	}
	return string(reply), nil
}

// reset drops the connection so the next attempt dials again. Callers hold mu.
func (s *Sender) reset() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

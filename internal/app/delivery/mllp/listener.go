package mllp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/hl7"
	"ipms-mediator/internal/pkg/utils"

	"go.uber.org/zap"
)

const (
	ackTextQueued      = "message queued"
	ackTextNotQueued   = "message could not be queued, resend later"
	ackTextMalformed   = "malformed HL7 message"
	ackTextUnsupported = "unsupported message type"
)

// InboundHL7Handler is satisfied by labworkflow.IPMSWorkflow.
type InboundHL7Handler interface {
	AcceptInboundHL7(ctx context.Context, raw string) (*hl7.Message, string, error)
}

// Listener accepts MLLP connections from IPMS. Every frame is handed to the
// workflow and answered with an ACK on the same connection: AA once the
// message is on its topic, AE when publishing failed and AR when the message
// cannot be routed at all.
type Listener struct {
	address     string
	handler     InboundHL7Handler
	idleTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

func NewListener(address string, handler InboundHL7Handler, idleTimeout time.Duration, logger *zap.Logger) *Listener {
	return &Listener{
		address:     address,
		handler:     handler,
		idleTimeout: idleTimeout,
		log:         logger,
		now:         time.Now,
	}
}

func (l *Listener) ListenAndServe(ctx context.Context) error {
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, constvars.NetworkTCP, l.address)
	if err != nil {
		return err
	}
	return l.Serve(ctx, listener)
}

// Serve accepts on listener until ctx is cancelled, then waits for open
// connections to finish their current frame.
func (l *Listener) Serve(ctx context.Context, listener net.Listener) error {
	l.log.Info("Listener.Serve accepting MLLP connections",
		zap.String(constvars.LoggingListenAddressKey, listener.Addr().String()),
	)
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.wg.Wait()
				l.log.Info("Listener.Serve stopped")
				return nil
			}
			l.log.Error("Listener.Serve accept failed", zap.Error(err))
			l.wg.Wait()
			return err
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)
	for {
		if l.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		}
		frame, err := hl7.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				l.log.Warn("Listener.serveConn closing connection",
					zap.String(constvars.LoggingRemoteAddrKey, remote),
					zap.Error(err),
				)
			}
			return
		}

		ack := l.acknowledge(ctx, string(frame))
		if _, err := conn.Write(hl7.Frame([]byte(ack))); err != nil {
			l.log.Warn("Listener.serveConn error writing ACK",
				zap.String(constvars.LoggingRemoteAddrKey, remote),
				zap.Error(err),
			)
			return
		}
	}
}

// acknowledge routes one message and builds the ACK that answers it.
func (l *Listener) acknowledge(ctx context.Context, raw string) string {
	ctx = utils.WithRequestID(ctx, utils.GenerateRequestID())
	requestID := utils.GetRequestID(ctx)

	message, topic, err := l.handler.AcceptInboundHL7(ctx, raw)

	code, text := hl7.AckAccept, ackTextQueued
	switch {
	case err == nil:
	case message == nil:
		message = &hl7.Message{}
		code, text = hl7.AckReject, ackTextMalformed
	case topic == "":
		code, text = hl7.AckReject, ackTextUnsupported
	default:
		code, text = hl7.AckError, ackTextNotQueued
	}

	if err != nil {
		l.log.Error("Listener.acknowledge message not accepted",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingMessageTypeKey, message.Type),
			zap.String(constvars.LoggingControlIDKey, message.ControlID),
			zap.String(constvars.LoggingErrorCodeKey, code),
			zap.Error(err),
		)
	}
	return hl7.BuildACK(message, code, utils.GenerateControlID(), text, l.now())
}

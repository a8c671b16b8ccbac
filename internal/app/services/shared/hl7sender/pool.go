package hl7sender

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Pool hands out one Sender per remote endpoint. The first caller for an
// address constructs it and every later caller shares it, so all sagas in the
// process talk to a given endpoint over the same connection. The Pool itself
// is constructed once and passed explicitly to whoever needs it.
type Pool struct {
	options Options
	log     *zap.Logger

	mu      sync.Mutex
	senders map[string]*Sender
}

func NewPool(options Options, logger *zap.Logger) *Pool {
	return &Pool{
		options: options,
		log:     logger,
		senders: make(map[string]*Sender),
	}
}

func (p *Pool) Get(host string, port int) *Sender {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	p.mu.Lock()
	defer p.mu.Unlock()
	if sender, ok := p.senders[address]; ok {
		return sender
	}
	sender := newSender(host, port, p.options, p.log)
	p.senders[address] = sender
	return sender
}

func (p *Pool) Send(ctx context.Context, message, targetHost string, targetPort, retries int) (string, error) {
	return p.Get(targetHost, targetPort).Send(ctx, message, retries)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for address, sender := range p.senders {
		if err := sender.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.senders, address)
	}
	return errors.Join(errs...)
}

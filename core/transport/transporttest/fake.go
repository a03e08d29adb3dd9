// Package transporttest provides an in-memory [transport.Transport] for tests
// of code built on top of streaming sessions.
package transporttest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-coach/core/transport"
)

// Fake records outbound payloads and lets tests inject inbound frames. By
// default Close is acknowledged asynchronously with a clean FrameClosed.
type Fake struct {
	mu         sync.Mutex
	handler    transport.Handler
	endpoint   string
	opened     bool
	closed     bool
	terminated bool
	sent       []transport.Payload

	openErr      error
	sendErr      error
	openGate     chan struct{}
	holdCloseAck bool
	onSend       func(transport.Payload)

	closedCh chan struct{}
	opens    int
	closes   int
}

var _ transport.Transport = (*Fake)(nil)

func New() *Fake {
	return &Fake{closedCh: make(chan struct{})}
}

// FailOpen makes Open fail with err wrapped in a ConnectError.
func (f *Fake) FailOpen(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
	return f
}

// FailSend makes every Send on an open transport fail with err.
func (f *Fake) FailSend(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
	return f
}

// BlockOpen makes Open wait until the returned function is called.
func (f *Fake) BlockOpen() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.openGate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldCloseAck stops Close from acknowledging; use AckClose to do it later.
func (f *Fake) HoldCloseAck() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdCloseAck = true
	return f
}

// OnSend registers a hook called after every accepted payload.
func (f *Fake) OnSend(hook func(transport.Payload)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSend = hook
	return f
}

func (f *Fake) Open(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	f.opens++
	gate := f.openGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-f.closedCh:
		case <-ctx.Done():
			return &transport.ConnectError{Endpoint: endpoint, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &transport.ConnectError{Endpoint: endpoint, Err: transport.ErrClosed}
	} else if f.opened {
		return &transport.ConnectError{Endpoint: endpoint, Err: fmt.Errorf("transport already opened")}
	} else if f.openErr != nil {
		f.closed = true
		return &transport.ConnectError{Endpoint: endpoint, Err: f.openErr}
	}
	f.opened = true
	f.endpoint = endpoint
	return nil
}

func (f *Fake) Send(_ context.Context, payload transport.Payload) error {
	f.mu.Lock()
	if !f.opened || f.closed || f.terminated {
		f.mu.Unlock()
		return transport.ErrNotConnected
	} else if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	payload.Data = bytes.Clone(payload.Data)
	f.sent = append(f.sent, payload)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(payload)
	}
	return nil
}

func (f *Fake) OnMessage(handler transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closes++
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.closedCh)
	ack := f.opened && !f.terminated && !f.holdCloseAck
	f.mu.Unlock()

	if ack {
		go f.Deliver(transport.ClosedFrame(nil))
	}
	return nil
}

// Deliver hands frame to the registered handler on the calling goroutine. It
// does not enforce the terminal frame contract so tests can inject late
// frames.
func (f *Fake) Deliver(frame transport.Frame) {
	f.mu.Lock()
	handler := f.handler
	if frame.IsTerminal() {
		f.terminated = true
	}
	f.mu.Unlock()

	if handler != nil {
		handler(frame)
	}
}

func (f *Fake) DeliverText(text string) {
	f.Deliver(transport.TextFrame([]byte(text)))
}

// RemoteClose simulates the backend closing the connection normally.
func (f *Fake) RemoteClose() {
	f.Deliver(transport.ClosedFrame(fmt.Errorf("%w: close 1000 (normal)", transport.ErrRemoteClosed)))
}

// AckClose delivers the held clean close acknowledgement.
func (f *Fake) AckClose() {
	f.Deliver(transport.ClosedFrame(nil))
}

func (f *Fake) Sent() []transport.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Payload(nil), f.sent...)
}

func (f *Fake) Endpoint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Factory hands out a new Fake per call and remembers them in order.
type Factory struct {
	mu        sync.Mutex
	fakes     []*Fake
	configure func(*Fake)
}

// NewFactory creates a factory; configure, when set, runs on every new Fake.
func NewFactory(configure func(*Fake)) *Factory {
	return &Factory{configure: configure}
}

func (f *Factory) New() transport.Transport {
	fake := New()
	if f.configure != nil {
		f.configure(fake)
	}
	f.mu.Lock()
	f.fakes = append(f.fakes, fake)
	f.mu.Unlock()
	return fake
}

func (f *Factory) Transports() []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.fakes...)
}

// Last returns the most recently created Fake, or nil.
func (f *Factory) Last() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fakes) == 0 {
		return nil
	}
	return f.fakes[len(f.fakes)-1]
}

// Package websocket implements [transport.Transport] on top of
// gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/koscakluka/ema-coach/core/credentials"
	"github.com/koscakluka/ema-coach/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultCloseGrace     = 2 * time.Second
)

type connState int

const (
	stateIdle connState = iota
	stateDialing
	stateOpen
	stateClosed
)

type TransportOption func(*TransportOptions)

type TransportOptions struct {
	Credentials    credentials.Store
	Header         http.Header
	Dialer         *gorillaws.Dialer
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// CloseGrace bounds how long Close waits for the remote close
	// acknowledgement before dropping the connection.
	CloseGrace time.Duration
}

// WithCredentials sends the stored token as a bearer Authorization header.
func WithCredentials(store credentials.Store) TransportOption {
	return func(o *TransportOptions) { o.Credentials = store }
}

func WithHeader(header http.Header) TransportOption {
	return func(o *TransportOptions) { o.Header = header.Clone() }
}

func WithDialer(dialer *gorillaws.Dialer) TransportOption {
	return func(o *TransportOptions) { o.Dialer = dialer }
}

func WithConnectTimeout(timeout time.Duration) TransportOption {
	return func(o *TransportOptions) { o.ConnectTimeout = timeout }
}

func WithWriteTimeout(timeout time.Duration) TransportOption {
	return func(o *TransportOptions) { o.WriteTimeout = timeout }
}

func WithCloseGrace(grace time.Duration) TransportOption {
	return func(o *TransportOptions) { o.CloseGrace = grace }
}

type Transport struct {
	options TransportOptions

	mu         sync.Mutex
	state      connState
	conn       *gorillaws.Conn
	cancelDial context.CancelFunc

	handler atomic.Pointer[transport.Handler]
	writeMu sync.Mutex

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

func New(opts ...TransportOption) *Transport {
	options := TransportOptions{
		ConnectTimeout: defaultConnectTimeout,
		WriteTimeout:   defaultWriteTimeout,
		CloseGrace:     defaultCloseGrace,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Dialer == nil {
		options.Dialer = gorillaws.DefaultDialer
	}

	return &Transport{
		options: options,
		done:    make(chan struct{}),
	}
}

// NewFactory returns a factory producing transports with the same options.
func NewFactory(opts ...TransportOption) transport.Factory {
	return func() transport.Transport { return New(opts...) }
}

func (t *Transport) Open(ctx context.Context, endpoint string) (err error) {
	ctx, span := tracer.Start(ctx, "open websocket transport", trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	t.mu.Lock()
	switch t.state {
	case stateIdle:
	case stateClosed:
		t.mu.Unlock()
		return &transport.ConnectError{Endpoint: endpoint, Err: transport.ErrClosed}
	default:
		t.mu.Unlock()
		return &transport.ConnectError{Endpoint: endpoint, Err: fmt.Errorf("transport already opened")}
	}

	var dialCtx context.Context
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); hasDeadline || t.options.ConnectTimeout <= 0 {
		dialCtx, cancel = context.WithCancel(ctx)
	} else {
		dialCtx, cancel = context.WithTimeout(ctx, t.options.ConnectTimeout)
	}
	defer cancel()
	t.state = stateDialing
	t.cancelDial = cancel
	t.mu.Unlock()

	header := t.options.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	authorization, err := credentials.BearerHeader(ctx, t.options.Credentials)
	if err != nil {
		t.markClosed()
		return &transport.ConnectError{Endpoint: endpoint, Err: fmt.Errorf("failed to read credentials: %w", err)}
	} else if authorization != "" {
		header.Set("Authorization", authorization)
	}

	conn, resp, err := t.options.Dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		t.markClosed()
		if resp != nil {
			err = fmt.Errorf("websocket handshake failed (status %d): %w", resp.StatusCode, err)
		}
		if t.closing.Load() {
			err = fmt.Errorf("%w: %w", transport.ErrClosed, err)
		}
		return &transport.ConnectError{Endpoint: endpoint, Err: err}
	}

	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		_ = conn.Close()
		return &transport.ConnectError{Endpoint: endpoint, Err: transport.ErrClosed}
	}
	t.state = stateOpen
	t.conn = conn
	t.cancelDial = nil
	t.mu.Unlock()

	go t.readLoop(conn)
	logger.Debug("websocket transport opened", "endpoint", endpoint)
	return nil
}

func (t *Transport) markClosed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = stateClosed
	t.cancelDial = nil
}

// OnMessage replaces the inbound handler. Handlers run on the read loop and
// must not block; calling Close from a handler delays the close by up to the
// close grace.
func (t *Transport) OnMessage(handler transport.Handler) {
	t.handler.Store(&handler)
}

func (t *Transport) emit(frame transport.Frame) {
	if handler := t.handler.Load(); handler != nil && *handler != nil {
		(*handler)(frame)
	}
}

func (t *Transport) readLoop(conn *gorillaws.Conn) {
	defer close(t.done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			frame := t.terminalFrame(err)
			t.markClosed()
			_ = conn.Close()
			t.emit(frame)
			return
		}

		switch messageType {
		case gorillaws.TextMessage:
			t.emit(transport.TextFrame(data))
		case gorillaws.BinaryMessage:
			t.emit(transport.BinaryFrame(data))
		}
	}
}

func (t *Transport) terminalFrame(err error) transport.Frame {
	if t.closing.Load() {
		return transport.ClosedFrame(nil)
	}

	if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
		return transport.ClosedFrame(fmt.Errorf("%w: %w", transport.ErrRemoteClosed, err))
	}

	var closeErr *gorillaws.CloseError
	if errors.As(err, &closeErr) {
		logger.Warn("websocket closed unexpectedly", "code", closeErr.Code, "error", err)
		return transport.ErrorFrame(fmt.Errorf("%w: %w", transport.ErrRemoteClosed, err))
	}

	logger.Warn("websocket read failed", "error", err)
	return transport.ErrorFrame(fmt.Errorf("failed to read from websocket: %w", err))
}

func (t *Transport) Send(ctx context.Context, payload transport.Payload) error {
	t.mu.Lock()
	state, conn := t.state, t.conn
	t.mu.Unlock()
	if state != stateOpen || conn == nil || t.closing.Load() {
		return transport.ErrNotConnected
	}

	var messageType int
	switch payload.Type {
	case transport.PayloadText:
		messageType = gorillaws.TextMessage
	case transport.PayloadBinary:
		messageType = gorillaws.BinaryMessage
	default:
		return fmt.Errorf("unsupported payload type %d", payload.Type)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Time{}
	if t.options.WriteTimeout > 0 {
		deadline = time.Now().Add(t.options.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(messageType, payload.Data); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

// Close sends a normal close frame and waits up to the close grace for the
// read loop to observe the acknowledgement before dropping the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)

		t.mu.Lock()
		previous, conn, cancelDial := t.state, t.conn, t.cancelDial
		t.state = stateClosed
		t.cancelDial = nil
		t.mu.Unlock()

		if cancelDial != nil {
			cancelDial()
		}
		if previous != stateOpen || conn == nil {
			return
		}

		deadline := time.Now().Add(t.options.CloseGrace)
		message := gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "")
		if err := conn.WriteControl(gorillaws.CloseMessage, message, deadline); err == nil {
			select {
			case <-t.done:
			case <-time.After(t.options.CloseGrace):
				logger.Debug("websocket close not acknowledged in time")
			}
		}

		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = fmt.Errorf("failed to close websocket: %w", err)
		}
	})
	return t.closeErr
}

// Done is closed once the read loop has exited and the terminal frame was
// delivered. It never closes for a transport that was not opened.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Package transport defines the bidirectional message stream a streaming
// session talks to its backend through.
//
// A Transport carries one connection. After a successful Open it delivers
// inbound frames to the registered handler and ends with exactly one terminal
// frame (FrameClosed or FrameError), whether the connection was closed
// locally or remotely. Close never suppresses a terminal frame that is
// already on its way.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnect      = errors.New("failed to connect")
	ErrNotConnected = errors.New("transport not connected")
	ErrRemoteClosed = errors.New("connection closed by remote")
	ErrClosed       = errors.New("transport closed")
)

// ConnectError is returned by Open when no connection could be established.
// It matches ErrConnect.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to connect to %s", e.Endpoint)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

type PayloadType int

const (
	PayloadText PayloadType = iota + 1
	PayloadBinary
)

func (t PayloadType) String() string {
	switch t {
	case PayloadText:
		return "text"
	case PayloadBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Payload is one outbound message.
type Payload struct {
	Type PayloadType
	Data []byte
}

func Text(text string) Payload { return Payload{Type: PayloadText, Data: []byte(text)} }

func Binary(data []byte) Payload { return Payload{Type: PayloadBinary, Data: data} }

type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FrameClosed
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClosed:
		return "closed"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one inbound delivery. Err is set on FrameError, and on FrameClosed
// when the remote end initiated the close (matching ErrRemoteClosed).
type Frame struct {
	Kind FrameKind
	Data []byte
	Err  error
}

func (f Frame) IsTerminal() bool {
	return f.Kind == FrameClosed || f.Kind == FrameError
}

func TextFrame(data []byte) Frame   { return Frame{Kind: FrameText, Data: data} }
func BinaryFrame(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }
func ClosedFrame(err error) Frame   { return Frame{Kind: FrameClosed, Err: err} }
func ErrorFrame(err error) Frame    { return Frame{Kind: FrameError, Err: err} }

type Handler func(Frame)

type Transport interface {
	// Open connects to endpoint. It fails with a [*ConnectError] when the
	// connection cannot be established, including when Close was called
	// before Open completed. A transport can only be opened once.
	Open(ctx context.Context, endpoint string) error
	// Send fails with ErrNotConnected unless the transport is open.
	Send(ctx context.Context, payload Payload) error
	// OnMessage registers the single inbound handler, replacing any
	// previous one.
	OnMessage(handler Handler)
	// Close is idempotent and safe to call in any state.
	Close() error
}

// Factory creates a fresh, unopened Transport.
type Factory func() Transport

// Package capture owns the microphone. A [Capturer] hands out at most one
// [Handle] at a time; the handle turns the device's continuous audio callback
// into discrete, sequence-numbered chunks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-coach/core/audio"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrAlreadyAcquired   = errors.New("audio capturer already acquired")
	ErrReleased          = errors.New("audio capturer released")
	ErrConcurrentCapture = errors.New("capture already in progress on this handle")
	ErrInvalidDuration   = errors.New("capture duration too short for encoding")
)

// Device is a source of raw audio. StartCapture must return once capture is
// running and deliver audio through onAudio until StopCapture is called.
// StopCapture must be safe to call on a device that never started.
type Device interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Permissions is the platform microphone permission prompt.
type Permissions interface {
	RequestMicrophone(ctx context.Context) (bool, error)
}

type PermissionFunc func(ctx context.Context) (bool, error)

func (f PermissionFunc) RequestMicrophone(ctx context.Context) (bool, error) { return f(ctx) }

// AlwaysAllow grants microphone access without asking, desktop builds have no
// permission prompt.
var AlwaysAllow Permissions = PermissionFunc(func(context.Context) (bool, error) { return true, nil })

type Capturer struct {
	device      Device
	permissions Permissions

	mu      sync.Mutex
	current *Handle
}

type Option func(*Capturer)

func WithPermissions(permissions Permissions) Option {
	return func(c *Capturer) {
		if permissions != nil {
			c.permissions = permissions
		}
	}
}

func New(device Device, opts ...Option) *Capturer {
	c := &Capturer{device: device, permissions: AlwaysAllow}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capturer) EncodingInfo() audio.EncodingInfo {
	if c == nil || c.device == nil {
		return audio.GetDefaultEncodingInfo()
	}
	return c.device.EncodingInfo()
}

// IsAcquired reports whether a handle is currently outstanding.
func (c *Capturer) IsAcquired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Acquire takes exclusive ownership of the device and starts capturing. A
// second Acquire while a handle is outstanding fails with ErrAlreadyAcquired.
func (c *Capturer) Acquire(ctx context.Context) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "acquire audio capturer")
	defer span.End()

	if c == nil || c.device == nil {
		return nil, fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)
	}

	// The slot is reserved before the permission prompt so that two callers
	// racing through the prompt cannot both start the device.
	handle := newHandle(c, c.device.EncodingInfo())
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	c.current = handle
	c.mu.Unlock()

	granted, err := c.permissions.RequestMicrophone(ctx)
	if err != nil || !granted {
		c.vacate(handle)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		} else {
			err = ErrPermissionDenied
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle.cancel = cancel
	if err := c.device.StartCapture(captureCtx, handle.onAudio); err != nil {
		cancel()
		if stopErr := c.device.StopCapture(); stopErr != nil {
			logger.Warn("failed to stop device after failed start", "error", stopErr)
		}
		c.vacate(handle)
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return handle, nil
}

func (c *Capturer) vacate(handle *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == handle {
		c.current = nil
	}
}

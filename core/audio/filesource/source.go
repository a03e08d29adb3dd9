// Package filesource replays recorded linear16 audio as if it came from a
// microphone. It is used for demos and tests on machines without an input
// device.
package filesource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/koscakluka/ema-coach/core/audio"
)

const defaultPeriod = 20 * time.Millisecond

type Device struct {
	encoding audio.EncodingInfo
	data     []byte
	period   time.Duration
	loop     bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

type DeviceOption func(*DeviceOptions)

type DeviceOptions struct {
	Encoding audio.EncodingInfo
	Period   time.Duration
	Loop     bool
}

// WithEncoding overrides the encoding of headerless recordings.
func WithEncoding(encoding audio.EncodingInfo) DeviceOption {
	return func(o *DeviceOptions) { o.Encoding = encoding }
}

// WithPeriod sets how often audio is handed to the capturer.
func WithPeriod(period time.Duration) DeviceOption {
	return func(o *DeviceOptions) { o.Period = period }
}

// WithLoop replays the recording from the start once it runs out.
func WithLoop() DeviceOption {
	return func(o *DeviceOptions) { o.Loop = true }
}

// Open reads a recording from disk. WAV files have their header stripped,
// anything else is treated as raw samples in the configured encoding.
func Open(path string, opts ...DeviceOption) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return New(data, opts...), nil
}

func New(data []byte, opts ...DeviceOption) *Device {
	options := DeviceOptions{
		Encoding: audio.GetDefaultEncodingInfo(),
		Period:   defaultPeriod,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Period <= 0 {
		options.Period = defaultPeriod
	}

	encoding := options.Encoding
	if samples, sampleRate, channels, ok := parseWAV(data); ok {
		data = samples
		encoding.SampleRate = sampleRate
		encoding.Channels = channels
		encoding.Format = audio.EncodingLinear16
	}

	return &Device{
		encoding: encoding,
		data:     data,
		period:   options.Period,
		loop:     options.Loop,
	}
}

func (d *Device) EncodingInfo() audio.EncodingInfo { return d.encoding }

func (d *Device) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("capture already started")
	}
	if len(d.data) == 0 {
		return fmt.Errorf("recording is empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})
	go d.replay(ctx, d.stopped, onAudio)
	return nil
}

func (d *Device) replay(ctx context.Context, stopped chan struct{}, onAudio func(audio []byte)) {
	defer close(stopped)

	step := d.encoding.BytesFor(d.period)
	if step == 0 {
		step = len(d.data)
	}

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if offset >= len(d.data) {
			if !d.loop {
				return
			}
			offset = 0
		}

		end := min(offset+step, len(d.data))
		onAudio(bytes.Clone(d.data[offset:end]))
		offset = end
	}
}

func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.stopped
	d.cancel, d.stopped = nil, nil
	return nil
}

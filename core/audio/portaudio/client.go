// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-coach/core/audio"
)

// Device is a [capture.Device] reading linear16 mono audio from the default
// input stream.
type Device struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewDevice(bufferSize int) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Device{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
	}, nil
}

func (d *Device) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("capture already started")
	}

	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})
	go d.readLoop(ctx, d.stopped, onAudio)
	return nil
}

func (d *Device) readLoop(ctx context.Context, stopped chan struct{}, onAudio func(audio []byte)) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.stream.Read(); err != nil {
			logger.Warn("failed to read from PortAudio stream", "error", err)
			continue
		}

		audioBuffer := bytes.Buffer{}
		if err := binary.Write(&audioBuffer, binary.LittleEndian, d.in); err != nil {
			logger.Warn("failed to encode PortAudio samples", "error", err)
			continue
		}
		onAudio(audioBuffer.Bytes())
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
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

func (d *Device) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}

func (d *Device) Close() {
	_ = d.StopCapture()
	d.stream.Close()
	portaudio.Terminate()
}

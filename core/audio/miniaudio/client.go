// Package miniaudio captures microphone audio through miniaudio (malgo).
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-coach/core/audio"
)

// Device is a [capture.Device] backed by the system default input.
type Device struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureClient
}

func NewDevice(encoding audio.EncodingInfo) (*Device, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}

	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	device := Device{audioContext: audioCtx}
	if err := device.captureClient.Init(audioCtx, encoding); err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &device, nil
}

func (d *Device) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return d.captureClient.Start(onAudio)
}

func (d *Device) StopCapture() error {
	return d.captureClient.Stop()
}

func (d *Device) EncodingInfo() audio.EncodingInfo {
	return d.captureClient.encoding
}

func (d *Device) Close() {
	_ = d.captureClient.Uninit()
	_ = d.audioContext.Uninit()
	d.audioContext.Free()
}

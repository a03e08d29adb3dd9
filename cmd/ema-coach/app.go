package main

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-coach/core/audio/filesource"
	"github.com/koscakluka/ema-coach/core/audio/miniaudio"
	"github.com/koscakluka/ema-coach/core/audio/portaudio"
	"github.com/koscakluka/ema-coach/core/backend"
	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/credentials"
	"github.com/koscakluka/ema-coach/core/session"
	"github.com/koscakluka/ema-coach/core/transport/websocket"
	"github.com/koscakluka/ema-coach/internal/config"
)

// portaudioBufferSize is the number of samples read per PortAudio call.
const portaudioBufferSize = 1600

// app is the wiring graph shared by the interactive commands.
type app struct {
	credentials credentials.Store
	backend     *backend.Client
	registry    *session.Registry
	closeDevice func()
}

func newCredentials(cfg config.Config) (credentials.Store, error) {
	if cfg.Backend.Token != "" {
		return credentials.NewMemoryStore(cfg.Backend.Token), nil
	}
	path, err := credentials.DefaultFilePath()
	if err != nil {
		return nil, fmt.Errorf("resolve credentials path: %w", err)
	}
	return credentials.NewFileStore(path), nil
}

func newBackend(cfg config.Config) (*backend.Client, credentials.Store, error) {
	store, err := newCredentials(cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := backend.NewClient(cfg.Backend.BaseURL, backend.WithCredentials(store))
	if err != nil {
		return nil, nil, err
	}
	return client, store, nil
}

// newApp builds the backend client, the audio device and the session
// registry. withDevice is false for text-only use.
func newApp(cfg config.Config, withDevice bool) (*app, error) {
	client, store, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		credentials: store,
		backend:     client,
		closeDevice: func() {},
	}

	defaults := []session.Option{
		session.WithTransport(websocket.NewFactory(websocket.WithCredentials(store))),
		session.WithChunkDuration(cfg.Session.ChunkDuration),
		session.WithCloseTimeout(cfg.Session.CloseTimeout),
		session.WithEndOfAudioMarker(cfg.Session.EndOfAudioMarker),
	}
	if withDevice {
		device, closeDevice, err := openDevice(cfg)
		if err != nil {
			return nil, err
		}
		a.closeDevice = closeDevice
		defaults = append(defaults, session.WithCapturer(capture.New(device)))
	}
	a.registry = session.NewRegistry(defaults...)

	return a, nil
}

func (a *app) Close() error {
	err := a.registry.Close()
	a.closeDevice()
	return err
}

func openDevice(cfg config.Config) (capture.Device, func(), error) {
	switch cfg.Audio.Backend {
	case config.AudioBackendFile:
		device, err := filesource.Open(cfg.Audio.File, filesource.WithEncoding(cfg.Encoding()))
		if err != nil {
			return nil, nil, err
		}
		return device, func() {}, nil
	case config.AudioBackendPortaudio:
		device, err := portaudio.NewDevice(portaudioBufferSize)
		if err != nil {
			return nil, nil, err
		}
		return device, device.Close, nil
	default:
		device, err := miniaudio.NewDevice(cfg.Encoding())
		if err != nil {
			return nil, nil, err
		}
		return device, device.Close, nil
	}
}

// requireToken fails early with a readable message when no token is stored.
func requireToken(ctx context.Context, store credentials.Store) error {
	if _, err := store.Token(ctx); err != nil {
		return fmt.Errorf("%w, run `ema-coach login <token>` or set EMA_COACH_TOKEN", err)
	}
	return nil
}

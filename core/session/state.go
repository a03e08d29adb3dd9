package session

import (
	"errors"
	"time"

	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/transport"
)

var (
	ErrCloseTimeout        = errors.New("timed out waiting for the transport to close")
	ErrSessionTerminated   = errors.New("session already ended")
	ErrSessionClosing      = errors.New("session is closing")
	ErrNotActive           = errors.New("session is not active")
	ErrNoCapturer          = errors.New("session has no audio capturer")
	ErrUnsupportedMode     = errors.New("operation not supported in this session mode")
	ErrRecordingInProgress = errors.New("a recording is already in progress")
	ErrMissingTransport    = errors.New("session has no transport factory")
	ErrRecordingCancelled  = errors.New("recording was cancelled")
)

type Key string

// AssistantKey is the key of the singleton assistant stream.
const AssistantKey Key = "assistant"

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

type Mode int

const (
	// ModeAudio streams captured audio chunks continuously and receives
	// suggestions.
	ModeAudio Mode = iota + 1
	// ModeChat sends a handshake with the session key, then text messages
	// and recorded audio followed by an end-of-audio marker, and receives
	// chat messages.
	ModeChat
)

func (m Mode) String() string {
	switch m {
	case ModeAudio:
		return "audio"
	case ModeChat:
		return "chat"
	default:
		return "unknown"
	}
}

const (
	DefaultChunkDuration    = time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultEndOfAudioMarker = "END_OF_AUDIO"
	defaultRecordingSlice   = 100 * time.Millisecond
)

type Config struct {
	Endpoint     string
	NewTransport transport.Factory
	// Capturer is required in audio mode and enables recordings in chat
	// mode.
	Capturer         *capture.Capturer
	ChunkDuration    time.Duration
	CloseTimeout     time.Duration
	EndOfAudioMarker string
}

type Option func(*Config)

func WithEndpoint(endpoint string) Option {
	return func(c *Config) { c.Endpoint = endpoint }
}

func WithTransport(factory transport.Factory) Option {
	return func(c *Config) { c.NewTransport = factory }
}

func WithCapturer(capturer *capture.Capturer) Option {
	return func(c *Config) { c.Capturer = capturer }
}

// WithChunkDuration sets how much audio goes into each streamed chunk.
func WithChunkDuration(d time.Duration) Option {
	return func(c *Config) { c.ChunkDuration = d }
}

// WithCloseTimeout bounds how long a stopped session waits for the transport
// to acknowledge the close before it is forced closed.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Config) { c.CloseTimeout = d }
}

func WithEndOfAudioMarker(marker string) Option {
	return func(c *Config) { c.EndOfAudioMarker = marker }
}

func newConfig(opts ...Option) Config {
	config := Config{
		ChunkDuration:    DefaultChunkDuration,
		CloseTimeout:     DefaultCloseTimeout,
		EndOfAudioMarker: DefaultEndOfAudioMarker,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = DefaultChunkDuration
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultCloseTimeout
	}
	if config.EndOfAudioMarker == "" {
		config.EndOfAudioMarker = DefaultEndOfAudioMarker
	}
	return config
}

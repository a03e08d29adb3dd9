// Package config resolves the runtime configuration of the ema-coach binary
// from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koscakluka/ema-coach/core/audio"
	"github.com/koscakluka/ema-coach/core/session"
)

const (
	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"
	AudioBackendFile      = "file"
)

type Config struct {
	Backend BackendConfig
	Audio   AudioConfig
	Session SessionConfig
	// LogLevel is one of debug, info, warn or error.
	LogLevel string
}

type BackendConfig struct {
	BaseURL       string
	AssistantPath string
	CoachPath     string
	// Token overrides the stored credential when set.
	Token string
}

type AudioConfig struct {
	Backend    string
	File       string
	SampleRate int
}

type SessionConfig struct {
	ChunkDuration    time.Duration
	CloseTimeout     time.Duration
	EndOfAudioMarker string
}

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	cfg := Config{
		Backend: BackendConfig{
			BaseURL:       envOrDefault("EMA_COACH_BACKEND_URL", "http://localhost:8000"),
			AssistantPath: envOrDefault("EMA_COACH_ASSISTANT_PATH", "/assistant/ws"),
			CoachPath:     envOrDefault("EMA_COACH_COACH_PATH", "/coach/ws"),
			Token:         strings.TrimSpace(os.Getenv("EMA_COACH_TOKEN")),
		},
		Audio: AudioConfig{
			Backend:    strings.ToLower(envOrDefault("EMA_COACH_AUDIO_BACKEND", AudioBackendMiniaudio)),
			File:       strings.TrimSpace(os.Getenv("EMA_COACH_AUDIO_FILE")),
			SampleRate: envOrDefaultInt("EMA_COACH_SAMPLE_RATE", audio.DefaultSampleRate),
		},
		Session: SessionConfig{
			ChunkDuration:    time.Duration(envOrDefaultInt("EMA_COACH_CHUNK_MS", int(session.DefaultChunkDuration/time.Millisecond))) * time.Millisecond,
			CloseTimeout:     time.Duration(envOrDefaultInt("EMA_COACH_CLOSE_TIMEOUT_MS", int(session.DefaultCloseTimeout/time.Millisecond))) * time.Millisecond,
			EndOfAudioMarker: envOrDefault("EMA_COACH_END_OF_AUDIO_MARKER", session.DefaultEndOfAudioMarker),
		},
		LogLevel: strings.ToLower(envOrDefault("EMA_COACH_LOG_LEVEL", "info")),
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Session.ChunkDuration <= 0 {
		cfg.Session.ChunkDuration = session.DefaultChunkDuration
	}
	if cfg.Session.CloseTimeout <= 0 {
		cfg.Session.CloseTimeout = session.DefaultCloseTimeout
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := url.Parse(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("invalid backend url %q: %w", c.Backend.BaseURL, err)
	}

	switch c.Audio.Backend {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	case AudioBackendFile:
		if c.Audio.File == "" {
			return fmt.Errorf("audio backend %q needs EMA_COACH_AUDIO_FILE", AudioBackendFile)
		}
	default:
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	return nil
}

// Encoding is the capture encoding requested from the audio device.
func (c Config) Encoding() audio.EncodingInfo {
	encoding := audio.GetDefaultEncodingInfo()
	encoding.SampleRate = c.Audio.SampleRate
	return encoding
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

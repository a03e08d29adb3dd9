// Command ema-coach is a terminal client for the ema language coach: a live
// assistant that suggests what to say next, and conversation practice with
// the coach.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/koscakluka/ema-coach/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg config.Config

	flagBackendURL string
	flagAudio      string
	flagAudioFile  string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "ema-coach",
	Short:         "Practice conversations and get live speaking suggestions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("backend-url") {
			loaded.Backend.BaseURL = flagBackendURL
		}
		if flags.Changed("audio") {
			loaded.Audio.Backend = flagAudio
		}
		if flags.Changed("audio-file") {
			loaded.Audio.File = flagAudioFile
			if !flags.Changed("audio") {
				loaded.Audio.Backend = config.AudioBackendFile
			}
		}
		if flags.Changed("log-level") {
			loaded.LogLevel = flagLogLevel
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagBackendURL, "backend-url", "", "backend base url (EMA_COACH_BACKEND_URL)")
	flags.StringVar(&flagAudio, "audio", "", "audio backend: miniaudio, portaudio or file (EMA_COACH_AUDIO_BACKEND)")
	flags.StringVar(&flagAudioFile, "audio-file", "", "replay a raw or wav audio file instead of the microphone (EMA_COACH_AUDIO_FILE)")
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (EMA_COACH_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package assistant drives the live assistant screen: it streams the
// microphone through the singleton assistant session and turns incoming
// suggestions into a small view model.
package assistant

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/koscakluka/ema-coach/core/events"
	"github.com/koscakluka/ema-coach/core/session"
)

const (
	StatusIdle         = "Tap to start"
	StatusConnecting   = "Connecting..."
	StatusListening    = "Listening..."
	StatusDisconnected = "Disconnected, tap to retry"

	defaultTranscriptSize = 2
)

// View is a snapshot of what the assistant screen shows.
type View struct {
	Suggestion string
	Words      []string
	// Transcript holds the most recent suggestions, oldest first.
	Transcript []string
	Status     string
	Listening  bool
	CanRetry   bool
	Err        error
}

type AssistantOption func(*AssistantOptions)

type AssistantOptions struct {
	OnChange       func(View)
	SessionOptions []session.Option
	TranscriptSize int
}

// WithOnChange registers a callback receiving every new view. It runs on the
// session's delivery goroutine and must not block.
func WithOnChange(onChange func(View)) AssistantOption {
	return func(o *AssistantOptions) { o.OnChange = onChange }
}

func WithSessionOptions(opts ...session.Option) AssistantOption {
	return func(o *AssistantOptions) { o.SessionOptions = append(o.SessionOptions, opts...) }
}

func WithTranscriptSize(size int) AssistantOption {
	return func(o *AssistantOptions) { o.TranscriptSize = size }
}

type Assistant struct {
	registry *session.Registry
	options  AssistantOptions

	mu      sync.Mutex
	session *session.Session
	view    View
}

func New(registry *session.Registry, opts ...AssistantOption) *Assistant {
	options := AssistantOptions{TranscriptSize: defaultTranscriptSize}
	for _, opt := range opts {
		opt(&options)
	}
	if options.TranscriptSize <= 0 {
		options.TranscriptSize = defaultTranscriptSize
	}

	return &Assistant{
		registry: registry,
		options:  options,
		view:     View{Status: StatusIdle},
	}
}

// Mount starts listening. Mounting while a live session exists reuses it.
func (a *Assistant) Mount(ctx context.Context) error {
	s := a.registry.GetOrCreate(session.AssistantKey, session.ModeAudio, a.options.SessionOptions...)

	// A reused session already announced its state to the previous
	// subscriber. Events arriving meanwhile wait for the lock, so they apply
	// after the current state.
	a.mu.Lock()
	a.session = s
	s.Subscribe(func(event events.Event) { a.handleEvent(s, event) })
	applyState(&a.view, s.State())
	view := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(view)

	if err := s.Start(ctx); err != nil {
		a.update(s, func(view *View) { a.markFailed(view, err) })
		return err
	}
	return nil
}

// Unmount stops listening and resets the status.
func (a *Assistant) Unmount() error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.view.Status = StatusIdle
	a.view.Listening = false
	a.view.CanRetry = false
	view := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(view)
	if s == nil {
		return nil
	}
	return s.Stop()
}

// Toggle starts listening when idle and stops it otherwise.
func (a *Assistant) Toggle(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()

	if s != nil && !s.State().IsTerminal() {
		return a.Unmount()
	}
	return a.Mount(ctx)
}

// Retry requests a new session after the previous one failed. It does
// nothing while a session is live.
func (a *Assistant) Retry(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()

	if s != nil && !s.State().IsTerminal() {
		return nil
	}
	return a.Mount(ctx)
}

func (a *Assistant) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Assistant) handleEvent(s *session.Session, event events.Event) {
	switch event := event.(type) {
	case events.Suggestion:
		a.update(s, func(view *View) {
			view.Suggestion = event.Text
			view.Words = event.Words
			view.Transcript = append(view.Transcript, event.Text)
			if overflow := len(view.Transcript) - a.options.TranscriptSize; overflow > 0 {
				view.Transcript = slices.Clone(view.Transcript[overflow:])
			}
		})
	case events.StateChanged:
		a.update(s, func(view *View) { applyState(view, session.State(event.State)) })
	case events.Closed:
		a.update(s, func(view *View) {
			view.Status = StatusIdle
			view.Listening = false
		})
	case events.Error:
		logger.Warn("assistant session failed", "error", event.Err)
		a.update(s, func(view *View) { a.markFailed(view, event.Err) })
	}
}

// applyState sets the status of a non-terminal session state.
func applyState(view *View, state session.State) {
	switch state {
	case session.StateIdle, session.StateClosing:
		view.Status = StatusIdle
		view.Listening = false
	case session.StateConnecting:
		view.Status = StatusConnecting
		view.Listening = false
	case session.StateActive:
		view.Status = StatusListening
		view.Listening = true
	default:
		return
	}
	view.CanRetry = false
	view.Err = nil
}

func (a *Assistant) markFailed(view *View, err error) {
	if errors.Is(err, session.ErrSessionClosing) || errors.Is(err, session.ErrSessionTerminated) {
		return
	}
	view.Status = StatusDisconnected
	view.Listening = false
	view.CanRetry = true
	view.Err = err
}

// update applies change unless s is no longer the mounted session.
func (a *Assistant) update(s *session.Session, change func(*View)) {
	a.mu.Lock()
	if a.session != s {
		a.mu.Unlock()
		return
	}
	change(&a.view)
	view := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(view)
}

func (a *Assistant) notify(view View) {
	if a.options.OnChange != nil {
		a.options.OnChange(view)
	}
}

func (a *Assistant) snapshotLocked() View {
	view := a.view
	view.Words = slices.Clone(a.view.Words)
	view.Transcript = slices.Clone(a.view.Transcript)
	return view
}

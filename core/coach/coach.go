// Package coach drives conversation practice: one chat session per
// conversation, typed messages, push-to-talk recordings and the conversation
// timer.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-coach/core/backend"
	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/events"
	"github.com/koscakluka/ema-coach/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusIdle         = "Tap to start"
	StatusConnecting   = "Connecting..."
	StatusReady        = "Hold to talk"
	StatusListening    = "Listening..."
	StatusDisconnected = "Disconnected, tap to retry"
)

var ErrNoConversation = errors.New("no conversation entered")

// History loads the stored messages of a conversation.
type History interface {
	ListMessages(ctx context.Context, conversationID string) ([]backend.Message, error)
}

// View is a snapshot of what the conversation screen shows.
type View struct {
	ConversationID string
	Messages       []backend.Message
	Status         string
	Recording      bool
	// Elapsed is the time since the conversation was entered, as mm:ss.
	Elapsed  string
	CanRetry bool
	Err      error
}

type CoachOption func(*CoachOptions)

type CoachOptions struct {
	OnChange       func(View)
	SessionOptions []session.Option
	History        History
	Now            func() time.Time
}

// WithOnChange registers a callback receiving every new view. It may run on
// the session's delivery goroutine and must not block.
func WithOnChange(onChange func(View)) CoachOption {
	return func(o *CoachOptions) { o.OnChange = onChange }
}

func WithSessionOptions(opts ...session.Option) CoachOption {
	return func(o *CoachOptions) { o.SessionOptions = append(o.SessionOptions, opts...) }
}

// WithHistory loads earlier messages when a conversation is entered.
func WithHistory(history History) CoachOption {
	return func(o *CoachOptions) { o.History = history }
}

func WithClock(now func() time.Time) CoachOption {
	return func(o *CoachOptions) { o.Now = now }
}

type Coach struct {
	registry *session.Registry
	store    *Store
	options  CoachOptions

	mu             sync.Mutex
	conversationID string
	session        *session.Session
	recording      *session.Recording
	enteredAt      time.Time
	status         string
	canRetry       bool
	err            error
}

func New(registry *session.Registry, store *Store, opts ...CoachOption) *Coach {
	options := CoachOptions{Now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	if store == nil {
		store = NewStore()
	}

	return &Coach{
		registry: registry,
		store:    store,
		options:  options,
		status:   StatusIdle,
	}
}

func (c *Coach) Store() *Store { return c.store }

// Enter opens the chat session of a conversation, leaving any other
// conversation first. Entering the current conversation again reuses its
// live session.
func (c *Coach) Enter(ctx context.Context, conversationID string) (err error) {
	if conversationID == "" {
		return fmt.Errorf("conversation id must not be empty")
	}

	ctx, span := tracer.Start(ctx, "enter conversation", trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	c.mu.Lock()
	switchingConversation := c.conversationID != conversationID
	previous := c.conversationID
	c.mu.Unlock()
	if switchingConversation && previous != "" {
		if err := c.Leave(); err != nil {
			logger.Warn("failed to leave conversation", "conversation_id", previous, "error", err)
		}
	}

	if switchingConversation && c.options.History != nil {
		if messages, err := c.options.History.ListMessages(ctx, conversationID); err != nil {
			logger.Warn("failed to load conversation history", "conversation_id", conversationID, "error", err)
		} else {
			c.store.SetMessages(conversationID, messages)
		}
	}

	s := c.registry.GetOrCreate(session.Key(conversationID), session.ModeChat, c.options.SessionOptions...)

	c.mu.Lock()
	c.conversationID = conversationID
	c.session = s
	if switchingConversation {
		c.enteredAt = c.options.Now()
	}
	c.canRetry = false
	c.err = nil
	if s.State() == session.StateActive {
		c.status = StatusReady
	} else {
		c.status = StatusConnecting
	}
	c.mu.Unlock()
	c.notify()

	s.Subscribe(func(event events.Event) { c.handleEvent(s, event) })
	if err := s.Start(ctx); err != nil {
		c.update(s, func() { c.markFailedLocked(err) })
		return err
	}
	return nil
}

// Leave stops the current conversation's session and discards any
// unfinished recording.
func (c *Coach) Leave() error {
	c.mu.Lock()
	s, recording := c.session, c.recording
	c.session, c.recording = nil, nil
	c.conversationID = ""
	c.enteredAt = time.Time{}
	c.status = StatusIdle
	c.canRetry = false
	c.err = nil
	c.mu.Unlock()
	c.notify()

	if recording != nil {
		recording.Cancel()
	}
	if s == nil {
		return nil
	}
	return s.Stop()
}

// Retry re-enters the current conversation after its session ended.
func (c *Coach) Retry(ctx context.Context) error {
	c.mu.Lock()
	id, s := c.conversationID, c.session
	c.mu.Unlock()

	if id == "" {
		return ErrNoConversation
	} else if s != nil && !s.State().IsTerminal() {
		return nil
	}
	return c.Enter(ctx, id)
}

// SendText echoes a typed message into the conversation and sends it.
func (c *Coach) SendText(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	id, s := c.conversationID, c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNoConversation
	}

	ctx, span := tracer.Start(ctx, "send text", trace.WithAttributes(attribute.String("conversation_id", id)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	c.store.Append(toBackendMessage(events.NewMessage(id, text, events.SourceUser)))
	c.notify()

	return s.SendText(ctx, text)
}

// PressRecord starts a push-to-talk recording. Pressing while the
// microphone is already in use does nothing.
func (c *Coach) PressRecord(ctx context.Context) error {
	c.mu.Lock()
	s, recording := c.session, c.recording
	c.mu.Unlock()
	if s == nil {
		return ErrNoConversation
	} else if recording != nil {
		return nil
	}

	recording, err := s.Record(ctx)
	if errors.Is(err, capture.ErrAlreadyAcquired) || errors.Is(err, session.ErrRecordingInProgress) {
		logger.Debug("microphone busy, ignoring record press", "error", err)
		return nil
	} else if err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != s || c.recording != nil {
		c.mu.Unlock()
		recording.Cancel()
		return nil
	}
	c.recording = recording
	c.status = StatusListening
	c.mu.Unlock()
	c.notify()
	return nil
}

// ReleaseRecord finishes the recording and sends it followed by the
// end-of-audio marker.
func (c *Coach) ReleaseRecord(ctx context.Context) error {
	c.mu.Lock()
	recording, s := c.recording, c.session
	c.recording = nil
	if recording != nil && s != nil && s.State() == session.StateActive {
		c.status = StatusReady
	}
	c.mu.Unlock()
	if recording == nil {
		return nil
	}
	c.notify()

	return recording.Finish(ctx)
}

// Elapsed is the time spent in the current conversation.
func (c *Coach) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enteredAt.IsZero() {
		return 0
	}
	return c.options.Now().Sub(c.enteredAt)
}

func (c *Coach) View() View {
	c.mu.Lock()
	view := View{
		ConversationID: c.conversationID,
		Status:         c.status,
		Recording:      c.recording != nil,
		CanRetry:       c.canRetry,
		Err:            c.err,
	}
	c.mu.Unlock()

	view.Elapsed = FormatElapsed(c.Elapsed())
	if view.ConversationID != "" {
		view.Messages = c.store.Messages(view.ConversationID)
	}
	return view
}

func (c *Coach) handleEvent(s *session.Session, event events.Event) {
	switch event := event.(type) {
	case events.Message:
		c.store.Append(toBackendMessage(event))
		c.update(s, func() {})
	case events.StateChanged:
		c.update(s, func() {
			switch session.State(event.State) {
			case session.StateConnecting:
				c.status = StatusConnecting
			case session.StateActive:
				if c.recording == nil {
					c.status = StatusReady
				}
			case session.StateClosing:
				c.status = StatusIdle
			}
		})
	case events.Closed:
		c.update(s, func() { c.status = StatusIdle })
	case events.Error:
		logger.Warn("coach session failed", "session_key", s.Key(), "error", event.Err)
		c.update(s, func() { c.markFailedLocked(event.Err) })
	}
}

func (c *Coach) markFailedLocked(err error) {
	if errors.Is(err, session.ErrSessionClosing) || errors.Is(err, session.ErrSessionTerminated) {
		return
	}
	c.status = StatusDisconnected
	c.canRetry = true
	c.err = err
	c.recording = nil
}

// update applies change unless s is no longer the current session.
func (c *Coach) update(s *session.Session, change func()) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	change()
	c.mu.Unlock()
	c.notify()
}

func (c *Coach) notify() {
	if c.options.OnChange != nil {
		c.options.OnChange(c.View())
	}
}

// FormatElapsed renders d as mm:ss, rolling minutes past 59.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func toBackendMessage(message events.Message) backend.Message {
	return backend.Message{
		ID:             message.ID,
		Source:         backend.MessageSource(message.Source),
		ConversationID: message.ConversationID,
		Content:        message.Content,
		SentAt:         message.SentAt,
	}
}

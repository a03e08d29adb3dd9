// Package session binds an audio capturer and a transport into a streaming
// session with an explicit lifecycle:
//
//	idle -> connecting -> active -> closing -> closed
//	                  \          \
//	                   `---------`-> failed
//
// Closed and failed are final; a session that reached either must be
// discarded and a new one requested from the [Registry].
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/events"
	"github.com/koscakluka/ema-coach/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Session struct {
	key    Key
	mode   Mode
	config Config

	mu         sync.Mutex
	state      State
	reason     error
	stopping   bool
	transport  transport.Transport
	handle     *capture.Handle
	recording  *Recording
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closeTimer *time.Timer
	onTerminal func(*Session)

	delivery *delivery
}

// New creates an idle session. Most callers should go through a [Registry]
// instead so that a key never has two live sessions.
func New(key Key, mode Mode, opts ...Option) *Session {
	return &Session{
		key:      key,
		mode:     mode,
		config:   newConfig(opts...),
		state:    StateIdle,
		delivery: newDelivery(key),
	}
}

func (s *Session) Key() Key   { return s.key }
func (s *Session) Mode() Mode { return s.mode }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session failed, ErrCloseTimeout when the close was
// forced, and nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Subscribe sets the single subscriber, replacing any previous one. Events
// are delivered in order on a dedicated goroutine; nothing is delivered after
// the terminal Closed or Error event.
func (s *Session) Subscribe(subscriber Subscriber) {
	s.delivery.setSubscriber(subscriber)
}

// Done is closed once the terminal event has been handed to the subscriber.
func (s *Session) Done() <-chan struct{} {
	return s.delivery.done
}

// Wait blocks until the session ended and its terminal event was delivered.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.delivery.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start connects the transport and, once connected, either starts streaming
// audio or sends the chat handshake. It blocks until the session is active or
// has failed. Starting a session that is already connecting or active is a
// no-op.
func (s *Session) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start session", trace.WithAttributes(
		attribute.String("session_key", string(s.key)),
		attribute.String("mode", s.mode.String()),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateActive:
		s.mu.Unlock()
		return nil
	case StateClosing:
		s.mu.Unlock()
		return ErrSessionClosing
	case StateClosed, StateFailed:
		s.mu.Unlock()
		return ErrSessionTerminated
	}

	if s.config.NewTransport == nil {
		s.mu.Unlock()
		s.fail(ErrMissingTransport)
		return ErrMissingTransport
	} else if s.mode == ModeAudio && s.config.Capturer == nil {
		s.mu.Unlock()
		s.fail(ErrNoCapturer)
		return ErrNoCapturer
	}

	tr := s.config.NewTransport()
	s.transport = tr
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	tr.OnMessage(s.handleFrame)
	if err := tr.Open(ctx, s.config.Endpoint); err != nil {
		s.fail(err)
		return err
	}

	var handle *capture.Handle
	switch s.mode {
	case ModeAudio:
		if handle, err = s.config.Capturer.Acquire(ctx); err != nil {
			s.fail(err)
			return err
		}
	case ModeChat:
		if err := tr.Send(ctx, transport.Text(string(s.key))); err != nil {
			err = fmt.Errorf("failed to send handshake: %w", err)
			s.fail(err)
			return err
		}
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		if handle != nil {
			if err := handle.Release(); err != nil {
				logger.Warn("failed to release capturer of a stopped session", "session_key", s.key, "error", err)
			}
		}
		if state == StateClosing {
			return ErrSessionClosing
		}
		return ErrSessionTerminated
	}

	s.setStateLocked(StateActive)
	if handle != nil {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.handle = handle
		s.loopCancel = cancel
		s.loopDone = make(chan struct{})
		go s.streamAudio(loopCtx, handle, tr, s.loopDone)
	}
	s.mu.Unlock()

	logger.Info("session active", "session_key", s.key, "mode", s.mode.String())
	return nil
}

// Stop releases the capturer, then closes the transport, and moves the
// session to closing. The session reaches closed once the transport
// acknowledges the close or the close timeout elapses. Stop is safe to call
// from any state, any number of times, including from a subscriber; only the
// first call has an effect. Release errors are joined and returned, but never
// stop the transport from being closed.
func (s *Session) Stop() error {
	_, span := tracer.Start(context.Background(), "stop session", trace.WithAttributes(
		attribute.String("session_key", string(s.key)),
	))
	defer span.End()

	s.mu.Lock()
	if s.stopping || s.state.IsTerminal() {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true

	if s.state == StateIdle {
		s.mu.Unlock()
		s.terminate(StateClosed, nil)
		return nil
	}

	s.setStateLocked(StateClosing)
	s.closeTimer = time.AfterFunc(s.config.CloseTimeout, s.closeTimedOut)
	res := s.resourcesLocked()
	s.mu.Unlock()

	err := res.release(true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to release session resources", "session_key", s.key, "error", err)
	}
	return err
}

func (s *Session) closeTimedOut() {
	if s.terminate(StateClosed, ErrCloseTimeout) {
		logger.Warn("session close timed out", "session_key", s.key)
	}
}

// SendText sends a typed chat message.
func (s *Session) SendText(ctx context.Context, text string) error {
	return s.send(ctx, transport.Text(text))
}

// SendAudio sends a binary audio payload. In chat mode it must be followed by
// [Session.SendEndOfAudio].
func (s *Session) SendAudio(ctx context.Context, data []byte) error {
	return s.send(ctx, transport.Binary(data))
}

func (s *Session) SendEndOfAudio(ctx context.Context) error {
	return s.send(ctx, transport.Text(s.config.EndOfAudioMarker))
}

func (s *Session) send(ctx context.Context, payload transport.Payload) error {
	tr, err := s.activeTransport()
	if err != nil {
		return err
	}
	if err := tr.Send(ctx, payload); err != nil {
		return fmt.Errorf("failed to send %s payload: %w", payload.Type, err)
	}
	return nil
}

func (s *Session) activeTransport() (transport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, fmt.Errorf("%w: session is %s", transport.ErrNotConnected, s.state)
	}
	return s.transport, nil
}

func (s *Session) streamAudio(ctx context.Context, handle *capture.Handle, tr transport.Transport, done chan struct{}) {
	defer close(done)

	for {
		chunk, err := handle.CaptureChunk(ctx, s.config.ChunkDuration)
		if err != nil {
			if errors.Is(err, capture.ErrReleased) || ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("failed to capture audio: %w", err))
			return
		}

		// Audio captured after stop is discarded.
		if s.State() != StateActive {
			return
		}

		if err := tr.Send(ctx, transport.Binary(chunk.Data)); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("failed to send audio chunk %d: %w", chunk.Seq, err))
			return
		}
		audioChunksSent.Add(ctx, 1, metric.WithAttributes(attribute.String("session_key", string(s.key))))
	}
}

func (s *Session) handleFrame(frame transport.Frame) {
	switch frame.Kind {
	case transport.FrameText:
		s.emit(s.inboundEvent(frame.Data))
	case transport.FrameBinary:
		logger.Debug("ignoring binary frame", "session_key", s.key, "bytes", len(frame.Data))
	case transport.FrameClosed:
		if frame.Err != nil {
			s.fail(frame.Err)
			return
		}
		if s.terminate(StateClosed, nil) {
			s.releaseAfterTerminal()
		}
	case transport.FrameError:
		s.fail(frame.Err)
	}
}

func (s *Session) inboundEvent(data []byte) events.Event {
	if s.mode == ModeAudio {
		return events.NewSuggestion(string(data))
	}
	return events.NewMessage(string(s.key), string(data), events.SourceBot)
}

// emit queues a non-terminal event unless the session already ended.
func (s *Session) emit(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		eventsDropped.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("session_key", string(s.key)),
			attribute.String("kind", string(event.Kind())),
		))
		return
	}
	s.delivery.push(event)
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.delivery.push(events.NewStateChanged(string(state)))
}

// fail ends the session with reason. A failure while closing completes the
// close instead.
func (s *Session) fail(reason error) {
	if s.terminate(StateFailed, reason) {
		s.releaseAfterTerminal()
	}
}

func (s *Session) releaseAfterTerminal() {
	s.mu.Lock()
	res := s.resourcesLocked()
	s.mu.Unlock()
	if err := res.release(false); err != nil {
		logger.Warn("failed to release session resources", "session_key", s.key, "error", err)
	}
}

// terminate moves the session into a terminal state and queues the terminal
// event. It reports false when the session had already ended.
func (s *Session) terminate(state State, reason error) bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	if state == StateFailed && s.state == StateClosing {
		state, reason = StateClosed, nil
	}

	s.state = state
	s.reason = reason
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}

	var event events.Event
	if state == StateFailed {
		event = events.NewError(reason)
		failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("session_key", string(s.key))))
		logger.Warn("session failed", "session_key", s.key, "error", reason)
	} else {
		event = events.NewClosed(errors.Is(reason, ErrCloseTimeout))
		logger.Info("session closed", "session_key", s.key)
	}
	onTerminal := s.onTerminal
	s.mu.Unlock()

	if onTerminal != nil {
		onTerminal(s)
	}
	// Nothing else can be queued once the state is terminal, so the
	// terminal event is always last.
	s.delivery.push(event)
	return true
}

type resources struct {
	cancel    context.CancelFunc
	loopDone  chan struct{}
	recording *Recording
	handle    *capture.Handle
	transport transport.Transport
}

func (s *Session) resourcesLocked() resources {
	res := resources{
		cancel:    s.loopCancel,
		loopDone:  s.loopDone,
		recording: s.recording,
		handle:    s.handle,
		transport: s.transport,
	}
	s.recording = nil
	return res
}

// release frees the capturer before the transport. Every step runs even if an
// earlier one failed. With waitLoop set, the transport is only closed after
// the capture loop has exited, so no chunk is sent on a closing transport.
func (r resources) release(waitLoop bool) error {
	var errs []error
	if r.cancel != nil {
		r.cancel()
	}
	if r.recording != nil {
		r.recording.Cancel()
	}
	if r.handle != nil {
		if err := r.handle.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release capturer: %w", err))
		}
	}
	if waitLoop && r.loopDone != nil {
		<-r.loopDone
	}
	if r.transport != nil {
		if err := r.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	return errors.Join(errs...)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-coach/core/capture"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recording is one push-to-talk capture of a chat session. Audio is
// accumulated while the recording runs and sent as a single payload followed
// by the end-of-audio marker when it is finished.
type Recording struct {
	session *Session
	handle  *capture.Handle

	mu   sync.Mutex
	data []byte
	err  error

	done      chan struct{}
	cancelled atomic.Bool
	finished  atomic.Bool
}

// Record acquires the capturer and starts recording. It fails with
// [capture.ErrAlreadyAcquired] when the microphone is held elsewhere.
func (s *Session) Record(ctx context.Context) (*Recording, error) {
	if s.mode != ModeChat {
		return nil, ErrUnsupportedMode
	} else if s.config.Capturer == nil {
		return nil, ErrNoCapturer
	}

	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrNotActive, state)
	} else if s.recording != nil {
		s.mu.Unlock()
		return nil, ErrRecordingInProgress
	}
	s.mu.Unlock()

	handle, err := s.config.Capturer.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	recording := &Recording{session: s, handle: handle, done: make(chan struct{})}

	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		_ = handle.Release()
		return nil, fmt.Errorf("%w: session is %s", ErrNotActive, state)
	} else if s.recording != nil {
		s.mu.Unlock()
		_ = handle.Release()
		return nil, ErrRecordingInProgress
	}
	s.recording = recording
	s.mu.Unlock()

	go recording.collect()
	return recording, nil
}

func (r *Recording) collect() {
	defer close(r.done)
	for {
		chunk, err := r.handle.CaptureChunk(context.Background(), defaultRecordingSlice)
		if err != nil {
			if !errors.Is(err, capture.ErrReleased) {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
			}
			return
		}

		r.mu.Lock()
		r.data = append(r.data, chunk.Data...)
		r.mu.Unlock()
	}
}

// Duration reports how much audio has been recorded so far.
func (r *Recording) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle.EncodingInfo().DurationOf(len(r.data))
}

// Finish releases the microphone and sends the recorded audio followed by the
// end-of-audio marker. An empty recording sends nothing.
func (r *Recording) Finish(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "finish recording", trace.WithAttributes(
		attribute.String("session_key", string(r.session.key)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if !r.finished.CompareAndSwap(false, true) {
		return fmt.Errorf("recording already finished")
	}

	releaseErr := r.handle.Release()
	select {
	case <-r.done:
	case <-ctx.Done():
		r.session.clearRecording(r)
		return ctx.Err()
	}
	r.session.clearRecording(r)

	if r.cancelled.Load() {
		return ErrRecordingCancelled
	}

	r.mu.Lock()
	data, captureErr := r.data, r.err
	r.mu.Unlock()
	if captureErr != nil {
		return errors.Join(releaseErr, fmt.Errorf("failed to record audio: %w", captureErr))
	}
	if len(data) == 0 {
		return releaseErr
	}

	if err := r.session.SendAudio(ctx, data); err != nil {
		return errors.Join(releaseErr, err)
	}
	if err := r.session.SendEndOfAudio(ctx); err != nil {
		return errors.Join(releaseErr, err)
	}
	return releaseErr
}

// Cancel stops the recording and discards the audio.
func (r *Recording) Cancel() {
	r.cancelled.Store(true)
	if err := r.handle.Release(); err != nil {
		logger.Warn("failed to release capturer of a cancelled recording", "session_key", r.session.key, "error", err)
	}
	r.session.clearRecording(r)
}

func (s *Session) clearRecording(r *Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == r {
		s.recording = nil
	}
}

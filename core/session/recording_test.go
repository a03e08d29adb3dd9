package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/transport"
	"github.com/koscakluka/ema-coach/core/transport/transporttest"
)

func newChatSessionWithCapturer(t *testing.T) (*Session, *testDevice, *capture.Capturer, *transporttest.Factory) {
	t.Helper()
	device := &testDevice{}
	capturer := capture.New(device)
	factory := transporttest.NewFactory(nil)
	s := New("c1", ModeChat, WithTransport(factory.New), WithCapturer(capturer))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Stop()
		waitDone(t, s)
	})
	return s, device, capturer, factory
}

func TestRecordingSendsAudioThenMarker(t *testing.T) {
	s, device, capturer, factory := newChatSessionWithCapturer(t)

	recording, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	audioData := append(bytes.Repeat([]byte{1}, 3200), bytes.Repeat([]byte{2}, 1600)...)
	device.push(audioData[:3200])
	device.push(audioData[3200:])

	if err := recording.Finish(context.Background()); err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if capturer.IsAcquired() {
		t.Fatalf("expected capturer to be released after finishing")
	}

	sent := factory.Last().Sent()
	if len(sent) != 3 {
		t.Fatalf("expected handshake, audio and marker, got %d sends", len(sent))
	}
	if sent[1].Type != transport.PayloadBinary || !bytes.Equal(sent[1].Data, audioData) {
		t.Fatalf("expected the whole recording as one binary payload, got %d bytes", len(sent[1].Data))
	}
	if sent[2].Type != transport.PayloadText || string(sent[2].Data) != DefaultEndOfAudioMarker {
		t.Fatalf("expected end-of-audio marker, got %+v", sent[2])
	}

	if err := recording.Finish(context.Background()); err == nil {
		t.Fatalf("expected second Finish to fail")
	}
}

func TestEmptyRecordingSendsNothing(t *testing.T) {
	s, _, _, factory := newChatSessionWithCapturer(t)

	recording, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := recording.Finish(context.Background()); err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if got := len(factory.Last().Sent()); got != 1 {
		t.Fatalf("expected only the handshake, got %d sends", got)
	}
}

func TestSecondRecordIsRejected(t *testing.T) {
	s, _, _, _ := newChatSessionWithCapturer(t)

	recording, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	defer recording.Cancel()

	if _, err := s.Record(context.Background()); !errors.Is(err, ErrRecordingInProgress) {
		t.Fatalf("expected ErrRecordingInProgress, got %v", err)
	}
}

func TestRecordFailsWhenMicrophoneIsHeld(t *testing.T) {
	s, _, capturer, _ := newChatSessionWithCapturer(t)

	held, err := capturer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer held.Release()

	if _, err := s.Record(context.Background()); !errors.Is(err, capture.ErrAlreadyAcquired) {
		t.Fatalf("expected ErrAlreadyAcquired, got %v", err)
	}
}

func TestRecordReportsSessionStoppedDuringPermissionPrompt(t *testing.T) {
	prompted := make(chan struct{})
	grant := make(chan struct{})
	capturer := capture.New(&testDevice{}, capture.WithPermissions(capture.PermissionFunc(func(context.Context) (bool, error) {
		close(prompted)
		<-grant
		return true, nil
	})))
	factory := transporttest.NewFactory(nil)
	s := New("c1", ModeChat, WithTransport(factory.New), WithCapturer(capturer))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := s.Record(context.Background())
		result <- err
	}()

	<-prompted
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	close(grant)

	select {
	case err := <-result:
		if !errors.Is(err, ErrNotActive) {
			t.Fatalf("expected ErrNotActive, got %v", err)
		}
		if errors.Is(err, ErrRecordingInProgress) {
			t.Fatalf("expected a stopped session not to be reported as a recording in progress")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Record did not return")
	}
	if capturer.IsAcquired() {
		t.Fatalf("expected the microphone to be released")
	}
	waitDone(t, s)
}

func TestCancelledRecordingIsDiscarded(t *testing.T) {
	s, device, capturer, factory := newChatSessionWithCapturer(t)

	recording, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	device.push(bytes.Repeat([]byte{1}, 3200))
	recording.Cancel()

	if capturer.IsAcquired() {
		t.Fatalf("expected capturer to be released after cancel")
	}
	if err := recording.Finish(context.Background()); !errors.Is(err, ErrRecordingCancelled) {
		t.Fatalf("expected ErrRecordingCancelled, got %v", err)
	}
	if got := len(factory.Last().Sent()); got != 1 {
		t.Fatalf("expected only the handshake, got %d sends", got)
	}

	if _, err := s.Record(context.Background()); err != nil {
		t.Fatalf("expected a new recording after cancel, got %v", err)
	}
}

func TestStopReleasesActiveRecording(t *testing.T) {
	device := &testDevice{}
	capturer := capture.New(device)
	factory := transporttest.NewFactory(nil)
	s := New("c1", ModeChat, WithTransport(factory.New), WithCapturer(capturer))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	recording, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	waitDone(t, s)

	if capturer.IsAcquired() {
		t.Fatalf("expected stop to release the recording's capturer")
	}
	if device.stopCalls.Load() != 1 {
		t.Fatalf("expected one device stop, got %d", device.stopCalls.Load())
	}
	if err := recording.Finish(context.Background()); !errors.Is(err, ErrRecordingCancelled) {
		t.Fatalf("expected ErrRecordingCancelled, got %v", err)
	}
}

func TestRecordIsOnlyAvailableInChatMode(t *testing.T) {
	s := New(AssistantKey, ModeAudio, WithCapturer(capture.New(&testDevice{})))
	if _, err := s.Record(context.Background()); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
}

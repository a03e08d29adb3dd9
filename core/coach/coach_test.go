package coach

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-coach/core/audio"
	"github.com/koscakluka/ema-coach/core/backend"
	"github.com/koscakluka/ema-coach/core/capture"
	"github.com/koscakluka/ema-coach/core/events"
	"github.com/koscakluka/ema-coach/core/session"
	"github.com/koscakluka/ema-coach/core/transport"
	"github.com/koscakluka/ema-coach/core/transport/transporttest"
)

type pushDevice struct {
	mu      sync.Mutex
	onAudio func([]byte)
}

func (d *pushDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *pushDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = onAudio
	return nil
}

func (d *pushDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = nil
	return nil
}

func (d *pushDevice) push(data []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio != nil {
		onAudio(data)
	}
}

type stubHistory struct {
	messages []backend.Message
	err      error
}

func (h stubHistory) ListMessages(_ context.Context, conversationID string) ([]backend.Message, error) {
	return h.messages, h.err
}

type testCoach struct {
	*Coach
	factory  *transporttest.Factory
	device   *pushDevice
	capturer *capture.Capturer
}

func newTestCoach(t *testing.T, opts ...CoachOption) testCoach {
	t.Helper()
	device := &pushDevice{}
	capturer := capture.New(device)
	factory := transporttest.NewFactory(nil)
	registry := session.NewRegistry(
		session.WithTransport(factory.New),
		session.WithCapturer(capturer),
	)
	t.Cleanup(func() { _ = registry.Close() })
	return testCoach{
		Coach:    New(registry, NewStore(), opts...),
		factory:  factory,
		device:   device,
		capturer: capturer,
	}
}

func waitForView(t *testing.T, c *Coach, description string, condition func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		view := c.View()
		if condition(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last view %+v", description, view)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEnterSendsHandshakeAndAppendsBotMessages(t *testing.T) {
	c := newTestCoach(t)

	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
	fake := c.factory.Last()
	sent := fake.Sent()
	if len(sent) != 1 || sent[0].Type != transport.PayloadText || string(sent[0].Data) != "conv-1" {
		t.Fatalf("expected the conversation id as handshake, got %+v", sent)
	}

	fake.DeliverText("Hello! How can I help you?")
	view := waitForView(t, c.Coach, "bot message", func(view View) bool { return len(view.Messages) == 1 })
	if view.Messages[0].Source != backend.SourceBot || view.Messages[0].Content != "Hello! How can I help you?" {
		t.Fatalf("unexpected message %+v", view.Messages[0])
	}
	if view.Messages[0].ConversationID != "conv-1" {
		t.Fatalf("expected message of conv-1, got %q", view.Messages[0].ConversationID)
	}
	if view.Status != StatusReady {
		t.Fatalf("expected status %q, got %q", StatusReady, view.Status)
	}
}

func TestSendTextEchoesUserMessageBeforeSending(t *testing.T) {
	c := newTestCoach(t)
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}

	var messagesAtSend int
	c.factory.Last().OnSend(func(transport.Payload) {
		messagesAtSend = len(c.Store().Messages("conv-1"))
	})

	if err := c.SendText(context.Background(), "  I'd like a table for two  "); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if messagesAtSend != 1 {
		t.Fatalf("expected the user message to be stored before sending, got %d messages", messagesAtSend)
	}

	messages := c.Store().Messages("conv-1")
	if len(messages) != 1 || messages[0].Source != backend.SourceUser || messages[0].Content != "I'd like a table for two" {
		t.Fatalf("unexpected messages %+v", messages)
	}
	sent := c.factory.Last().Sent()
	if got := string(sent[len(sent)-1].Data); got != "I'd like a table for two" {
		t.Fatalf("expected trimmed text to be sent, got %q", got)
	}

	if err := c.SendText(context.Background(), "   "); err != nil {
		t.Fatalf("blank SendText returned error: %v", err)
	}
	if got := len(c.factory.Last().Sent()); got != 2 {
		t.Fatalf("expected blank text not to be sent, got %d sends", got)
	}
}

func TestSendTextWithoutConversation(t *testing.T) {
	c := newTestCoach(t)
	if err := c.SendText(context.Background(), "hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestPressAndReleaseSendsRecordingThenMarker(t *testing.T) {
	c := newTestCoach(t)
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}

	if err := c.PressRecord(context.Background()); err != nil {
		t.Fatalf("PressRecord returned error: %v", err)
	}
	if view := c.View(); !view.Recording || view.Status != StatusListening {
		t.Fatalf("expected a listening view, got %+v", view)
	}

	data := bytes.Repeat([]byte{7}, 3200)
	c.device.push(data)

	if err := c.ReleaseRecord(context.Background()); err != nil {
		t.Fatalf("ReleaseRecord returned error: %v", err)
	}
	if c.capturer.IsAcquired() {
		t.Fatalf("expected microphone to be released")
	}

	sent := c.factory.Last().Sent()
	if len(sent) != 3 {
		t.Fatalf("expected handshake, audio and marker, got %d sends", len(sent))
	}
	if sent[1].Type != transport.PayloadBinary || !bytes.Equal(sent[1].Data, data) {
		t.Fatalf("expected recorded audio, got %+v", sent[1])
	}
	if string(sent[2].Data) != session.DefaultEndOfAudioMarker {
		t.Fatalf("expected end-of-audio marker, got %q", sent[2].Data)
	}
	if view := c.View(); view.Recording || view.Status != StatusReady {
		t.Fatalf("expected a ready view after release, got %+v", view)
	}
}

func TestPressWhileMicrophoneBusyIsIgnored(t *testing.T) {
	c := newTestCoach(t)
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}

	handle, err := c.capturer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer handle.Release()

	if err := c.PressRecord(context.Background()); err != nil {
		t.Fatalf("expected busy microphone to be ignored, got %v", err)
	}
	if c.View().Recording {
		t.Fatalf("expected no recording while the microphone is busy")
	}
	if err := c.ReleaseRecord(context.Background()); err != nil {
		t.Fatalf("ReleaseRecord without recording returned error: %v", err)
	}
	if got := len(c.factory.Last().Sent()); got != 1 {
		t.Fatalf("expected only the handshake to be sent, got %d sends", got)
	}
}

func TestFailureOffersRetry(t *testing.T) {
	c := newTestCoach(t)
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}

	c.factory.Last().Deliver(transport.ErrorFrame(errors.New("connection reset")))
	view := waitForView(t, c.Coach, "disconnected status", func(view View) bool { return view.CanRetry })
	if view.Status != StatusDisconnected || view.Err == nil {
		t.Fatalf("unexpected view %+v", view)
	}

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if got := len(c.factory.Transports()); got != 2 {
		t.Fatalf("expected a new transport after retry, got %d", got)
	}
	view = waitForView(t, c.Coach, "ready status", func(view View) bool { return view.Status == StatusReady })
	if view.CanRetry || view.Err != nil {
		t.Fatalf("expected retry to clear the error, got %+v", view)
	}
}

func TestEnterAnotherConversationLeavesThePrevious(t *testing.T) {
	c := newTestCoach(t)
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
	first := c.factory.Last()

	if err := c.Enter(context.Background(), "conv-2"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
	if !first.IsClosed() {
		t.Fatalf("expected the first conversation's transport to be closed")
	}
	if view := c.View(); view.ConversationID != "conv-2" {
		t.Fatalf("expected conv-2 to be current, got %q", view.ConversationID)
	}

	// Late events of the old session must not leak into the new view.
	first.DeliverText("late")
	time.Sleep(20 * time.Millisecond)
	if got := len(c.View().Messages); got != 0 {
		t.Fatalf("expected no messages in conv-2, got %d", got)
	}
}

func TestEnterLoadsHistory(t *testing.T) {
	history := stubHistory{messages: []backend.Message{
		{ID: "m1", ConversationID: "conv-1", Source: backend.SourceBot, Content: "Welcome back"},
	}}
	c := newTestCoach(t, WithHistory(history))

	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
	messages := c.View().Messages
	if len(messages) != 1 || messages[0].Content != "Welcome back" {
		t.Fatalf("expected history to be loaded, got %+v", messages)
	}
}

func TestEnterIgnoresHistoryErrors(t *testing.T) {
	c := newTestCoach(t, WithHistory(stubHistory{err: errors.New("backend down")}))
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
}

func TestElapsedFollowsClock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newTestCoach(t, WithClock(clock))

	if got := c.View().Elapsed; got != "00:00" {
		t.Fatalf("expected 00:00 before entering, got %q", got)
	}
	if err := c.Enter(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}

	mu.Lock()
	now = now.Add(75 * time.Second)
	mu.Unlock()
	if got := c.View().Elapsed; got != "01:15" {
		t.Fatalf("expected 01:15, got %q", got)
	}

	if err := c.Leave(); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}
	if got := c.Elapsed(); got != 0 {
		t.Fatalf("expected elapsed to reset on leave, got %v", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{9 * time.Second, "00:09"},
		{61*time.Second + 500*time.Millisecond, "01:01"},
		{100 * time.Minute, "100:00"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToBackendMessageKeepsFields(t *testing.T) {
	message := events.NewMessage("conv-1", "hi", events.SourceUser)
	got := toBackendMessage(message)
	if got.ID != message.ID || got.Source != backend.SourceUser || !got.SentAt.Equal(message.SentAt) {
		t.Fatalf("unexpected conversion %+v", got)
	}
}

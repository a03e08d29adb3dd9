package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-coach/core/audio"
	"github.com/koscakluka/ema-coach/core/events"
)

type testDevice struct {
	mu         sync.Mutex
	onAudio    func([]byte)
	startCalls atomic.Int32
	stopCalls  atomic.Int32
}

func (d *testDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *testDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	d.startCalls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = onAudio
	return nil
}

func (d *testDevice) StopCapture() error {
	d.stopCalls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = nil
	return nil
}

func (d *testDevice) push(data []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio != nil {
		onAudio(data)
	}
}

type eventRecorder struct {
	mu       sync.Mutex
	events   []events.Event
	terminal chan struct{}
	once     sync.Once
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{terminal: make(chan struct{})}
}

func (r *eventRecorder) handle(event events.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if events.IsTerminal(event) {
		r.once.Do(func() { close(r.terminal) })
	}
}

func (r *eventRecorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *eventRecorder) ofKind(kind events.Kind) []events.Event {
	var matching []events.Event
	for _, event := range r.snapshot() {
		if event.Kind() == kind {
			matching = append(matching, event)
		}
	}
	return matching
}

func (r *eventRecorder) waitForKind(t *testing.T, kind events.Kind, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(r.ofKind(kind)) < count {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %q events, got %d", count, kind, len(r.ofKind(kind)))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session %q did not end, state %s", s.Key(), s.State())
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

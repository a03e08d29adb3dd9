package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// IsTerminal reports whether the event ends a session's event stream.
func IsTerminal(event Event) bool {
	if event == nil {
		return false
	}
	switch event.Kind() {
	case KindSessionClosed, KindSessionError:
		return true
	default:
		return false
	}
}

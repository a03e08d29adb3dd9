package events

const (
	KindSessionStateChanged Kind = "session.state_changed"
	KindSessionClosed       Kind = "session.closed"
	KindSessionError        Kind = "session.error"
)

// StateChanged reports a transition into a non-terminal state. State is the
// session state name, e.g. "connecting" or "active".
type StateChanged struct {
	Base
	State string
}

func NewStateChanged(state string) StateChanged {
	return StateChanged{Base: NewBase(KindSessionStateChanged), State: state}
}

// Closed is the terminal event of a session that ended normally. Forced is
// set when the transport never acknowledged the close in time.
type Closed struct {
	Base
	Forced bool
}

func NewClosed(forced bool) Closed {
	return Closed{Base: NewBase(KindSessionClosed), Forced: forced}
}

// Error is the terminal event of a failed session.
type Error struct {
	Base
	Err error
}

func NewError(err error) Error {
	return Error{Base: NewBase(KindSessionError), Err: err}
}

package session

import (
	"errors"
	"sync"
)

// Registry holds at most one live session per key. Lookup and insertion
// happen under one lock, so concurrent callers asking for the same key always
// share a single session and therefore never hold the microphone twice.
type Registry struct {
	defaults []Option

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry creates a registry whose sessions are built with defaults,
// followed by any per-call options.
func NewRegistry(defaults ...Option) *Registry {
	return &Registry{
		defaults: defaults,
		sessions: make(map[Key]*Session),
	}
}

// GetOrCreate returns the live session for key, or creates and registers an
// idle one. A session that already ended is replaced. Options and mode only
// apply when a new session is created.
func (r *Registry) GetOrCreate(key Key, mode Mode, opts ...Option) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[key]; ok && !existing.State().IsTerminal() {
		return existing
	}

	session := New(key, mode, append(append([]Option{}, r.defaults...), opts...)...)
	session.mu.Lock()
	session.onTerminal = r.forget
	session.mu.Unlock()
	r.sessions[key] = session
	return session
}

// Get returns the registered session for key, if any.
func (r *Registry) Get(key Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[key]
	return session, ok
}

// Remove drops key from the registry if its session already ended. It is
// safe to call any number of times; live sessions are left in place.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[key]; ok && session.State().IsTerminal() {
		delete(r.sessions, key)
	}
}

func (r *Registry) forget(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[session.key] == session {
		delete(r.sessions, session.key)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every registered session and returns their joined errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

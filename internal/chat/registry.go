// Package chat owns live conversations: the per-tab session registry, turn
// orchestration against a completion provider, idle eviction, rate limiting
// and the conversation event log.
package chat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gene-chat/internal/session"
)

// ErrTurnInProgress is returned when a session is already waiting on the provider.
var ErrTurnInProgress = errors.New("a reply is already being generated for this session")

// Entry is one live conversation. Its mutex guards the State; the busy flag
// admits one turn at a time without holding the mutex across provider calls.
type Entry struct {
	UserID    string
	SessionID string

	mu       sync.Mutex
	state    *session.State
	busy     bool
	lastSeen time.Time
	now      func() time.Time
}

// NewEntry wraps st as a conversation outside any registry.
func NewEntry(userID, sessionID string, st *session.State) *Entry {
	return &Entry{UserID: userID, SessionID: sessionID, state: st, lastSeen: time.Now(), now: time.Now}
}

// View runs fn with exclusive access to the session state.
func (e *Entry) View(fn func(s *session.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Update runs fn with exclusive access to the session state and returns its error.
func (e *Entry) Update(fn func(s *session.State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// Busy reports whether a turn is in flight.
func (e *Entry) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// begin marks the entry busy. The returned func clears the flag. Both ends
// of a turn count as activity for idle eviction.
func (e *Entry) begin() (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, ErrTurnInProgress
	}
	e.busy = true
	e.lastSeen = e.now()
	return func() {
		e.mu.Lock()
		e.busy = false
		e.lastSeen = e.now()
		e.mu.Unlock()
	}, nil
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *Entry) idle(now time.Time, ttl time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.busy && now.Sub(e.lastSeen) > ttl
}

// Registry maps (user, tab session) pairs to live conversations.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]map[string]*Entry
	newState func() *session.State
	now      func() time.Time
}

// NewRegistry creates a registry. newState builds the State for a session
// seen for the first time; nil uses session.New.
func NewRegistry(newState func() *session.State) *Registry {
	if newState == nil {
		newState = func() *session.State { return session.New() }
	}
	return &Registry{
		active:   make(map[string]map[string]*Entry),
		newState: newState,
		now:      time.Now,
	}
}

// Get returns the entry for userID/sessionID, creating it on first use, and
// marks it as recently seen.
func (r *Registry) Get(userID, sessionID string) *Entry {
	now := r.now()

	r.mu.RLock()
	e := r.active[userID][sessionID]
	r.mu.RUnlock()
	if e != nil {
		e.touch(now)
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[userID]; !exists {
		r.active[userID] = make(map[string]*Entry)
	}
	if e = r.active[userID][sessionID]; e != nil {
		e.touch(now)
		return e
	}

	e = NewEntry(userID, sessionID, r.newState())
	e.lastSeen = now
	e.now = func() time.Time { return r.now() }
	r.active[userID][sessionID] = e
	slog.Info("Chat session created", "user_id", userID, "session_id", sessionID, "state_id", e.state.ID())
	return e
}

// Lookup returns the entry without creating one.
func (r *Registry) Lookup(userID, sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.active[userID][sessionID]
	return e, ok
}

// Remove discards one conversation.
func (r *Registry) Remove(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, sessionID)
}

func (r *Registry) removeLocked(userID, sessionID string) {
	sessions, ok := r.active[userID]
	if !ok {
		return
	}
	if _, exists := sessions[sessionID]; !exists {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.active, userID)
	}
	slog.Info("Chat session discarded", "user_id", userID, "session_id", sessionID)
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}

// Evict discards conversations idle for longer than ttl and returns them.
// Entries with a turn in flight are kept.
func (r *Registry) Evict(ttl time.Duration) []*Entry {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Entry
	for userID, sessions := range r.active {
		for sessionID, e := range sessions {
			if e.idle(now, ttl) {
				evicted = append(evicted, e)
				r.removeLocked(userID, sessionID)
			}
		}
	}
	return evicted
}

// Package session holds the in-memory authenticated-user state and publishes
// its transitions to subscribers.
package session

import (
	"sync"

	"github.com/meditransport/medride/internal/models"
)

// EventKind names the points at which session state changes
type EventKind int

const (
	// LoggedIn follows a successful login
	LoggedIn EventKind = iota + 1
	// Registered follows a successful registration
	Registered
	// Restored follows a successful startup token verification
	Restored
	// LoggedOut follows an explicit logout
	LoggedOut
	// RefreshLoggedOut follows a logout forced by an unrecoverable refresh failure
	RefreshLoggedOut
)

func (k EventKind) String() string {
	switch k {
	case LoggedIn:
		return "logged_in"
	case Registered:
		return "registered"
	case Restored:
		return "restored"
	case LoggedOut:
		return "logged_out"
	case RefreshLoggedOut:
		return "refresh_logged_out"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the kind leaves the session authenticated
func (k EventKind) Authenticated() bool {
	return k == LoggedIn || k == Registered || k == Restored
}

// Event is published on every state transition
type Event struct {
	Kind EventKind
	// User is the new current user; nil after a logout
	User *models.User
}

// Snapshot is a consistent read of the state
type Snapshot struct {
	User            *models.User
	IsAuthenticated bool
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// State is the current user plus the authentication flag. Authenticate and
// Reset are the only writers.
type State struct {
	mu            sync.RWMutex
	user          *models.User
	authenticated bool

	// publishMu keeps delivery in emission order
	publishMu   sync.Mutex
	subsMu      sync.Mutex
	subscribers []subscriber
	nextID      uint64
}

// NewState returns an empty, unauthenticated state
func NewState() *State {
	return &State{}
}

// CurrentUser returns a copy of the current user, or nil
func (s *State) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// IsAuthenticated reports the authentication flag
func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Snapshot returns user and flag read together
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{User: s.user.Clone(), IsAuthenticated: s.authenticated}
}

// HasRole reports whether an authenticated user holds one of roles
func (s *State) HasRole(roles ...models.Role) bool {
	snap := s.Snapshot()
	if !snap.IsAuthenticated || snap.User == nil {
		return false
	}
	for _, r := range roles {
		if snap.User.Role == r {
			return true
		}
	}
	return false
}

// Authenticate replaces the current user and marks the session authenticated
func (s *State) Authenticate(user models.User, kind EventKind) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.user = user.Clone()
	s.authenticated = true
	s.mu.Unlock()

	s.publish(Event{Kind: kind, User: user.Clone()})
}

// Reset clears the user and the flag. It publishes even when already empty so
// subscribers can treat logout as idempotent.
func (s *State) Reset(kind EventKind) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.user = nil
	s.authenticated = false
	s.mu.Unlock()

	s.publish(Event{Kind: kind})
}

// Subscribe registers fn for every subsequent event. The returned function
// removes the subscription.
func (s *State) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *State) publish(ev Event) {
	s.subsMu.Lock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

package auth

import (
	"sort"
	"sync"

	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Listener receives the current user (nil when signed out) and whether
// the provider is still establishing the session.
type Listener func(user *users.User, loading bool)

// Provider exposes the signed-in user of a client
type Provider interface {
	// Current returns the signed-in user and the loading flag
	Current() (*users.User, bool)
	// OnAuthStateChanged registers fn and calls it once with the current
	// state. The returned function removes the listener.
	OnAuthStateChanged(fn Listener) func()
}

// Session is a Provider whose state is set explicitly. It starts signed
// out and not loading.
type Session struct {
	mu        sync.Mutex
	user      *users.User
	loading   bool
	nextID    int
	listeners map[int]Listener
}

// NewSession creates a signed-out session
func NewSession() *Session {
	return &Session{listeners: make(map[int]Listener)}
}

// Current implements Provider
func (s *Session) Current() (*users.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user), s.loading
}

// OnAuthStateChanged implements Provider
func (s *Session) OnAuthStateChanged(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	user, loading := copyUser(s.user), s.loading
	s.mu.Unlock()

	fn(user, loading)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn sets the current user
func (s *Session) SignIn(u users.User) {
	s.set(&u, false)
}

// SignOut clears the current user
func (s *Session) SignOut() {
	s.set(nil, false)
}

// SetLoading marks the session as being established
func (s *Session) SetLoading() {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	s.set(user, true)
}

// set publishes a state change. Listeners run in registration order on the
// caller's goroutine, outside the lock.
func (s *Session) set(u *users.User, loading bool) {
	s.mu.Lock()
	if sameUser(s.user, u) && s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.user = u
	s.loading = loading

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(u), loading)
	}
}

func copyUser(u *users.User) *users.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func sameUser(a, b *users.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

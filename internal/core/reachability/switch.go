// Package reachability tracks whether the backends can be reached and
// notifies subscribers on every online/offline transition.
package reachability

import (
	"sync"
)

// Switch is a reachability source whose state is set explicitly. It is used
// on its own in tests and as the state holder behind Monitor.
type Switch struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

// NewSwitch creates a Switch in the given state
func NewSwitch(online bool) *Switch {
	return &Switch{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online reports the current state
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe registers fn for transitions. fn is called outside the lock and
// must not block for long.
func (s *Switch) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Set changes the state. Subscribers are only notified when it actually
// changes. It reports whether a transition happened.
func (s *Switch) Set(online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Package connectivity reports whether the remote endpoint is believed
// reachable and announces offline to online transitions.
package connectivity

import "sync"

// Signal is the host-supplied connectivity source.
type Signal interface {
	// Online reports the current belief; it may be wrong.
	Online() bool
	// Subscribe returns a channel that receives a value on every transition
	// to online, and a function that cancels the subscription.
	Subscribe() (<-chan struct{}, func())
}

// state holds the online flag and the subscribers shared by every Signal
// implementation in this package.
type state struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan struct{}
}

func (s *state) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *state) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan struct{})
	}
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// set updates the flag and reports whether this was an offline to online
// transition. Subscribers that have not consumed the previous event keep a
// single pending event.
func (s *state) set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := online && !s.online
	s.online = online
	if !restored {
		return false
	}
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

// Manual is a Signal whose state is set explicitly, by the UI through the
// API or by tests.
type Manual struct {
	state
}

// NewManual creates a Manual signal with the given initial state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// Set changes the state. It returns true on an offline to online transition.
func (m *Manual) Set(online bool) bool {
	return m.set(online)
}

package feed

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tOgg1/yfeed/internal/models"
)

// WindowHandler receives the full window after every change.
type WindowHandler func(posts []models.Post)

// StateHandler receives live channel state transitions.
type StateHandler func(state State)

type subscription[H any] struct {
	id      string
	handler H
	// active is cleared before unsubscribe returns; publish checks it
	// before every call.
	active *atomic.Bool
}

func newSubscription[H any](fn H) subscription[H] {
	active := new(atomic.Bool)
	active.Store(true)
	return subscription[H]{id: uuid.NewString(), handler: fn, active: active}
}

func unsubscribe[H any](mu *sync.RWMutex, subs *[]subscription[H], sub subscription[H]) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			mu.Lock()
			*subs = slices.DeleteFunc(*subs, func(s subscription[H]) bool { return s.id == sub.id })
			mu.Unlock()
		})
	}
}

// Store holds the current window and fans changes out to observers. Only
// the synchronizer publishes; everybody else gets copies.
type Store struct {
	mu        sync.RWMutex
	posts     []models.Post
	state     State
	subs      []subscription[WindowHandler]
	stateSubs []subscription[StateHandler]
	closed    bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: State{Kind: StateConnecting}}
}

// Subscribe registers fn for window changes and returns its unsubscribe func.
// fn runs on the synchronizer's loop goroutine and must not block.
func (s *Store) Subscribe(fn WindowHandler) func() {
	sub := newSubscription(fn)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return unsubscribe(&s.mu, &s.subs, sub)
}

// SubscribeState registers fn for connection state transitions.
func (s *Store) SubscribeState(fn StateHandler) func() {
	sub := newSubscription(fn)
	s.mu.Lock()
	s.stateSubs = append(s.stateSubs, sub)
	s.mu.Unlock()
	return unsubscribe(&s.mu, &s.stateSubs, sub)
}

// Snapshot returns a copy of the current window.
func (s *Store) Snapshot() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePosts(s.posts)
}

// State returns the last observed connection state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SubscriberCount returns the number of window subscribers.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// publish swaps in a new window and notifies every subscriber once. It
// returns false when the store is closed and the update was dropped.
func (s *Store) publish(posts []models.Post) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.posts = clonePosts(posts)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	// Invoke handlers outside the lock so they may call Snapshot.
	for _, sub := range subs {
		if sub.active.Load() {
			sub.handler(clonePosts(posts))
		}
	}
	return true
}

func (s *Store) publishState(state State) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.state = state
	subs := slices.Clone(s.stateSubs)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.handler(state)
		}
	}
	return true
}

// Close stops all further notifications. The last snapshot stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		sub.active.Store(false)
	}
	for _, sub := range s.stateSubs {
		sub.active.Store(false)
	}
	s.subs = nil
	s.stateSubs = nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func clonePosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, post := range posts {
		out[i] = post.Clone()
	}
	return out
}

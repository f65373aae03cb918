package websocket

import "sync"

// Subscriptions tracks desired and active topics of one connection.
// Desired topics survive reconnects; active topics are cleared on disconnect.
type Subscriptions[T comparable] struct {
	mu      sync.Mutex
	desired map[T]struct{}
	active  map[T]struct{}
}

// NewSubscriptions creates a subscription tracker.
func NewSubscriptions[T comparable]() *Subscriptions[T] {
	return &Subscriptions[T]{
		desired: make(map[T]struct{}),
		active:  make(map[T]struct{}),
	}
}

// Add registers a desired topic subscription.
// Returns true if the topic was newly added.
func (s *Subscriptions[T]) Add(topic T) bool {
	s.mu.Lock()
	_, exists := s.desired[topic]
	if !exists {
		s.desired[topic] = struct{}{}
	}
	s.mu.Unlock()
	return !exists
}

// Remove deletes a desired topic subscription.
// Returns true if the topic was desired.
func (s *Subscriptions[T]) Remove(topic T) bool {
	s.mu.Lock()
	_, ok := s.desired[topic]
	if ok {
		delete(s.desired, topic)
		delete(s.active, topic)
	}
	s.mu.Unlock()
	return ok
}

// Has reports whether topic is desired.
func (s *Subscriptions[T]) Has(topic T) bool {
	s.mu.Lock()
	_, ok := s.desired[topic]
	s.mu.Unlock()
	return ok
}

// MarkActive marks a topic as active.
func (s *Subscriptions[T]) MarkActive(topic T) {
	s.mu.Lock()
	if _, ok := s.desired[topic]; ok {
		s.active[topic] = struct{}{}
	}
	s.mu.Unlock()
}

// IsActive reports whether topic has been sent on the current connection.
func (s *Subscriptions[T]) IsActive(topic T) bool {
	s.mu.Lock()
	_, ok := s.active[topic]
	s.mu.Unlock()
	return ok
}

// ClearActive clears all active topics.
func (s *Subscriptions[T]) ClearActive() {
	s.mu.Lock()
	clear(s.active)
	s.mu.Unlock()
}

// Desired fills dst with desired subscriptions and returns it.
func (s *Subscriptions[T]) Desired(dst []T) []T {
	s.mu.Lock()
	if dst == nil {
		dst = make([]T, 0, len(s.desired))
	} else {
		dst = dst[:0]
	}
	for topic := range s.desired {
		dst = append(dst, topic)
	}
	s.mu.Unlock()
	return dst
}

// Count returns the number of desired topics.
func (s *Subscriptions[T]) Count() int {
	s.mu.Lock()
	count := len(s.desired)
	s.mu.Unlock()
	return count
}

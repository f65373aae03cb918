package marketdata

import (
	"sync"

	"perpbot/internal/adapter"
)

// Listener receives updates of one topic. Updates that don't fit in the
// buffer are dropped.
type Listener struct {
	hub   *Hub
	topic Topic
	ch    chan adapter.Update
	once  sync.Once
}

// C returns the update channel. It is closed by Close.
func (l *Listener) C() <-chan adapter.Update {
	return l.ch
}

// Topic returns the topic the listener is registered for.
func (l *Listener) Topic() Topic {
	return l.topic
}

// Close unregisters the listener and closes its channel.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.hub.mu.Lock()
		if set, ok := l.hub.listeners[l.topic]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(l.hub.listeners, l.topic)
			}
		}
		l.hub.mu.Unlock()
		close(l.ch)
	})
}

// StateListener receives connection state transitions. When its buffer is
// full the oldest pending state is discarded, so the newest one always lands.
type StateListener struct {
	hub  *Hub
	ch   chan ConnectionState
	once sync.Once
}

// C returns the state channel. It is closed by Close.
func (l *StateListener) C() <-chan ConnectionState {
	return l.ch
}

// Close unregisters the listener and closes its channel.
func (l *StateListener) Close() {
	l.once.Do(func() {
		l.hub.mu.Lock()
		delete(l.hub.stateListeners, l)
		l.hub.mu.Unlock()
		close(l.ch)
	})
}

func (l *StateListener) push(s ConnectionState) {
	for range 2 {
		select {
		case l.ch <- s:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

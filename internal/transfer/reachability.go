package transfer

import (
	"sync"
)

// Reachability reports whether the companion can currently be reached and
// notifies subscribers when that changes.
type Reachability interface {
	Reachable() bool
	// Subscribe registers fn for changes. The returned func unregisters it.
	Subscribe(fn func(reachable bool)) (unsubscribe func())
}

// Monitor is a settable Reachability. Transports drive it from their
// connection events; tests drive it directly.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	next      int
	subs      map[int]func(bool)
}

// NewMonitor returns a Monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{reachable: initial, subs: make(map[int]func(bool))}
}

// Reachable returns the current state.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Subscribe calls fn on every later state change until unsubscribed.
func (m *Monitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Set updates the state. Subscribers are called, outside the lock, only
// when the state changes.
func (m *Monitor) Set(reachable bool) {
	m.mu.Lock()
	if m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(reachable)
	}
}

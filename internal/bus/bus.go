// Package bus is the in-process delivery channel between running
// operations and their progress sinks (CLI output, a GUI, tests).
// Publishing never blocks: a subscriber that falls behind loses events,
// which is acceptable for progress display and keeps slow sinks from
// stalling a comparison.
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to namespace-filtered subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription receives events whose Kind starts with its namespace.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	namespace string
	cancel    func()
}

// Cancel detaches the subscription and closes C. Events already
// buffered remain readable before C reports closed. Cancelling twice
// is a no-op.
func (s *Subscription) Cancel() { s.cancel() }

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers interest in events whose Kind has the given
// namespace prefix. bufSize bounds how far a sink may fall behind.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, namespace: namespace}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	sub.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			// No publisher can be mid-send here: Publish holds the read
			// lock for the duration of its sends.
			close(ch)
		}
		b.mu.Unlock()
	}
	return sub
}

// Publish delivers evt to every matching subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber full; drop rather than stall the operation.
			}
		}
	}
}

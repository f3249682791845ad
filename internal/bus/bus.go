package bus

import (
	"strings"
	"sync"
)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(evt Event)
}

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Channel subscribers receive events asynchronously and may miss them when
// their buffer is full. Handlers registered with On run synchronously inside
// Publish, so a publisher knows they have finished when Publish returns.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	handlers map[int]*handler
	next     int
}

type subscription struct {
	namespace string
	ch        chan Event
}

type handler struct {
	kind string
	fn   func(Event)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscription),
		handlers: make(map[int]*handler),
	}
}

// Publish queues the event for all subscribers whose namespace is a prefix of
// evt.Kind, then runs every handler registered for evt.Kind and returns once
// they are done.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	var fns []func(Event)
	for _, h := range b.handlers {
		if h.kind == evt.Kind {
			fns = append(fns, h.fn)
		}
	}
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
	b.mu.RUnlock()

	// Handlers run outside the lock so they may publish or unsubscribe.
	for _, fn := range fns {
		fn(evt)
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// On registers fn for events whose Kind equals kind exactly.
// Returns a function that removes the handler.
func (b *Bus) On(kind string, fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = &handler{kind: kind, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

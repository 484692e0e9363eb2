package events

import (
	"log/slog"
	"sync"
)

// Handler processes one event. Handler errors are logged, never propagated:
// observability must not fail the build.
type Handler func(Event) error

// Bus is a simple synchronous pub/sub bus. Publishing happens only from the
// single-threaded sequencer, so handlers never race each other.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	all         []Handler
	log         *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{subscribers: map[string][]Handler{}, log: log}
}

// Subscribe registers a handler for a named event.
func (b *Bus) Subscribe(event string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[event] = append(b.subscribers[event], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Publish delivers the event to all matching handlers synchronously.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.all...)
	hs = append(hs, b.subscribers[e.Name()]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if err := h(e); err != nil && b.log != nil {
			b.log.Warn("Event handler failed", "event", e.Name(), "error", err)
		}
	}
}

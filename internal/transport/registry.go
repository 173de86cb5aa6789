package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clarity-bi/transparency-bridge/internal/event"
)

// Registry fans events out to subscribed handlers, keyed by event type.
// Safe for concurrent use. Handlers run on the dispatching goroutine;
// delivery order across handlers is unspecified.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Type]map[string]event.Handler
}

// NewRegistry creates an empty subscriber registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[event.Type]map[string]event.Handler),
	}
}

// Subscribe registers h for events of type t and returns an unsubscribe
// func. Calling the returned func more than once is a no-op.
func (r *Registry) Subscribe(t event.Type, h event.Handler) func() {
	id := uuid.New().String()

	r.mu.Lock()
	if r.handlers[t] == nil {
		r.handlers[t] = make(map[string]event.Handler)
	}
	r.handlers[t][id] = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.handlers[t], id)
		r.mu.Unlock()
	}
}

// Dispatch delivers ev to every handler subscribed to its type.
func (r *Registry) Dispatch(ev event.Event) {
	r.mu.RLock()
	hs := make([]event.Handler, 0, len(r.handlers[ev.Type]))
	for _, h := range r.handlers[ev.Type] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// Count returns the number of handlers subscribed to t.
func (r *Registry) Count(t event.Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

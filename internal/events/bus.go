// Package events carries lifecycle and change notifications between
// components. Handlers run synchronously on the emitter's goroutine; a
// handler must not block.
package events

import (
	"sync"
)

// Event names used across the store.
const (
	SessionChanged    = "session:changed"
	PermissionChanged = "permission:changed"
	ShareRequested    = "share:requested"
	ShareResolved     = "share:resolved"
	AtomeMutated      = "atome:mutated"
)

type Handler func(payload any)

// Bus is a process-scoped publish/subscribe hub, injected into components
// rather than read as an ambient global.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: map[string][]Handler{}}
}

// On registers a handler for the named event.
func (b *Bus) On(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit delivers payload to every handler registered for name.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	registered := make([]Handler, len(b.handlers[name]))
	copy(registered, b.handlers[name])
	b.mu.RUnlock()

	for _, handler := range registered {
		handler(payload)
	}
}

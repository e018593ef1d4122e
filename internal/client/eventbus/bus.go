// Package eventbus routes decoded battle events to the one handler currently
// interested in each event kind.
//
// The bus is a one-to-one binding, not a publish/subscribe fan-out: registering
// a handler for a kind replaces whatever was registered before. A room has a
// single active consumer (the session store, or a UI screen that temporarily
// takes over a kind), so last-writer-wins is the contract. Supporting several
// concurrent consumers per kind would need an explicit API change.
package eventbus

import (
	"sync"

	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

// Handler receives the decoded payload of one event
type Handler func(payload any)

// Bus maps each event kind to at most one handler
type Bus struct {
	log      *zap.Logger
	mu       sync.RWMutex
	handlers map[protocol.EventKind]Handler
}

// New creates an empty bus
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log.With(zap.String("component", "eventbus")),
		handlers: make(map[protocol.EventKind]Handler),
	}
}

// On registers h for kind, replacing any previous handler
func (b *Bus) On(kind protocol.EventKind, h Handler) {
	if h == nil {
		b.Off(kind)
		return
	}

	b.mu.Lock()
	_, replaced := b.handlers[kind]
	b.handlers[kind] = h
	b.mu.Unlock()

	if replaced {
		b.log.Debug("handler replaced", zap.Stringer("kind", kind))
	}
}

// Off removes the handler for kind
func (b *Bus) Off(kind protocol.EventKind) {
	b.mu.Lock()
	delete(b.handlers, kind)
	b.mu.Unlock()
}

// Trigger invokes the current handler for kind synchronously.
// It reports false when nothing was registered and the event was dropped.
func (b *Bus) Trigger(kind protocol.EventKind, payload any) bool {
	b.mu.RLock()
	h, ok := b.handlers[kind]
	b.mu.RUnlock()

	if !ok {
		b.log.Debug("no handler registered, dropping event", zap.Stringer("kind", kind))
		return false
	}

	// Called outside the lock so handlers may re-register.
	h(payload)
	return true
}

// Clear removes every handler
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[protocol.EventKind]Handler)
	b.mu.Unlock()
}

// Len returns the number of registered handlers
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Package transport defines the bidirectional event channel the chat core
// talks through, and the implementations it can run on.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Handler receives the raw JSON payload of one inbound event.
type Handler func(payload []byte)

// Channel is an event socket: connect/disconnect lifecycle, subscribe by
// event name, emit by event name. Reconnection, if any, is the
// implementation's business.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// On adds a handler for event. Several handlers may share an event; the
	// returned func removes this one only.
	On(event string, h Handler) (off func())
	// Off removes every handler for event.
	Off(event string)
	// Emit encodes payload as JSON and sends it. A nil error means the
	// local emission succeeded, not that anyone received it.
	Emit(ctx context.Context, event string, payload any) error
}

type registration struct {
	id uint64
	h  Handler
}

// listeners is the handler registry embedded by every Channel.
type listeners struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
}

func (l *listeners) On(event string, h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[string][]registration)
	}
	l.nextID++
	id := l.nextID
	l.handlers[event] = append(l.handlers[event], registration{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(event, id) })
	}
}

func (l *listeners) remove(event string, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	regs := l.handlers[event]
	for i, r := range regs {
		if r.id == id {
			// Copy so a dispatch holding the old slice is unaffected.
			rest := make([]registration, 0, len(regs)-1)
			rest = append(rest, regs[:i]...)
			l.handlers[event] = append(rest, regs[i+1:]...)
			break
		}
	}
	if len(l.handlers[event]) == 0 {
		delete(l.handlers, event)
	}
}

func (l *listeners) Off(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, event)
}

// HandlerCount reports how many handlers are registered for event.
func (l *listeners) HandlerCount(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers[event])
}

func (l *listeners) dispatch(event string, payload []byte) {
	l.mu.RLock()
	regs := l.handlers[event]
	l.mu.RUnlock()

	for _, r := range regs {
		r.h(payload)
	}
}

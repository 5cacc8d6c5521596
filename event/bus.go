package event

import (
	"errors"
	"sync"
)

// ErrNoHandlers is returned by OnEvent when nothing is listening.
var ErrNoHandlers = errors.New("no event handlers registered")

type Handler[Key, Event any] interface {
	OnEvent(key Key, e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Key, Event any] func(Key, Event)

// OnEvent calls f(key, e).
func (f HandlerFunc[Key, Event]) OnEvent(key Key, e Event) {
	f(key, e)
}

// Bus fans events out to every registered handler. Handlers are called
// synchronously and in registration order, so a single producer's events reach
// each handler in the order they were published. Handlers must not block.
type Bus[Key, Event any] struct {
	handlersMu sync.RWMutex
	nextID     uint64
	handlers   []registration[Key, Event]
}

type registration[Key, Event any] struct {
	id      uint64
	handler Handler[Key, Event]
}

func NewBus[Key, Event any]() *Bus[Key, Event] {
	return &Bus[Key, Event]{
		handlersMu: sync.RWMutex{},
		handlers:   nil,
	}
}

// AddHandler registers h and returns a function that unregisters it.
func (b *Bus[Key, Event]) AddHandler(h Handler[Key, Event]) (remove func()) {
	b.handlersMu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, registration[Key, Event]{id: id, handler: h})
	b.handlersMu.Unlock()

	return func() {
		b.handlersMu.Lock()
		defer b.handlersMu.Unlock()

		for i, r := range b.handlers {
			if r.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus[Key, Event]) OnEvent(key Key, e Event) error {
	b.handlersMu.RLock()
	// Copy handlers to prevent race conditions
	handlers := make([]Handler[Key, Event], 0, len(b.handlers))
	for _, r := range b.handlers {
		handlers = append(handlers, r.handler)
	}
	b.handlersMu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoHandlers
	}

	// Execute handlers outside the lock
	for _, h := range handlers {
		h.OnEvent(key, e)
	}

	return nil
}

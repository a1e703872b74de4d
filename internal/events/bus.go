package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(event *Event)

// Bus fans events out to subscribers
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[uint64]Handler
	nextID   uint64
	log      zerolog.Logger
}

// NewBus creates an empty event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[uint64]Handler),
		log:      log.With().Str("service", "event_bus").Logger(),
	}
}

// Subscribe registers h for eventType and returns a subscription id
func (b *Bus) Subscribe(eventType EventType, h Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][b.nextID] = h
	return b.nextID
}

// SubscribeAll registers h for every event type under a single id
func (b *Bus) SubscribeAll(h Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	for _, t := range AllEventTypes {
		if b.handlers[t] == nil {
			b.handlers[t] = make(map[uint64]Handler)
		}
		b.handlers[t][b.nextID] = h
	}
	return b.nextID
}

// Unsubscribe removes every handler registered under id
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, hs := range b.handlers {
		delete(hs, id)
		if len(hs) == 0 {
			delete(b.handlers, t)
		}
	}
}

// SubscriberCount returns the number of handlers registered for eventType
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish delivers event to every handler subscribed to its type.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[event.Type]))
	for _, h := range b.handlers[event.Type] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// Package events provides in-process pub/sub for lifecycle events.
package events

import (
	"sync"
	"time"
)

// Event is a lightweight domain event, e.g. "appointment.booked".
type Event struct {
	Type      string
	Payload   interface{}
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event Event)

// Bus fans events out to subscribers.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type. The empty type
// subscribes to every event.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously;
// the caller decides the concurrency model.
func (b *Bus) Publish(eventType string, payload interface{}) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[eventType]...)
	handlers = append(handlers, b.subscribers[""]...)
	b.mu.RUnlock()

	event := Event{Type: eventType, Payload: payload, CreatedAt: time.Now()}
	for _, handler := range handlers {
		handler(event)
	}
}

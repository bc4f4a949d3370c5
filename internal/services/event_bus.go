package services

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventSitesUpdated    EventType = "sites_updated"
	EventSiteUpdated     EventType = "site_updated"
	EventStatusChanged   EventType = "status_changed"
	EventAppStateChanged EventType = "app_state_changed"
)

// AllEventTypes lists every type SubscribeAll registers for
var AllEventTypes = []EventType{
	EventSitesUpdated,
	EventSiteUpdated,
	EventStatusChanged,
	EventAppStateChanged,
}

// Event represents a dashboard event
type Event struct {
	Type      EventType              `json:"type"`
	View      string                 `json:"view,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventBus fans events out to buffered subscriber channels
type EventBus struct {
	subscribers map[EventType][]chan Event
	closed      bool
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
	}
}

// Subscribe creates a subscription to events of a specific type
func (eb *EventBus) Subscribe(eventType EventType, bufferSize int) <-chan Event {
	return eb.subscribe([]EventType{eventType}, bufferSize)
}

// SubscribeAll creates a subscription to all event types
func (eb *EventBus) SubscribeAll(bufferSize int) <-chan Event {
	return eb.subscribe(AllEventTypes, bufferSize)
}

func (eb *EventBus) subscribe(types []EventType, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(ch)
		return ch
	}
	for _, eventType := range types {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	}
	return ch
}

// Publish delivers an event to every subscriber of its type. Subscribers
// whose buffer is full miss the event.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Unsubscribe removes ch from every type it was registered for and closes it
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	var found chan Event
	for eventType, subscribers := range eb.subscribers {
		kept := subscribers[:0]
		for _, subscriber := range subscribers {
			if subscriber == ch {
				found = subscriber
				continue
			}
			kept = append(kept, subscriber)
		}
		eb.subscribers[eventType] = kept
	}
	if found != nil {
		close(found)
	}
}

// Close closes all subscriber channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	seen := make(map[chan Event]bool)
	for eventType, subscribers := range eb.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(eb.subscribers, eventType)
	}
}

package gateway

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Event types
const (
	EventCommissionerState = "commissioner_state"
	EventJoiner            = "joiner_event"
	EventDiagnostic        = "diagnostic_response"
	EventNetworkState      = "network_state"
	EventConfigChanged     = "config_changed"
	EventScanComplete      = "scan_complete"
)

// Event is a gateway notification delivered to subscribers. Time is set from
// the gateway clock when the event is queued.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscriber struct {
	id        uint64
	eventType string // "" matches every type
	handler   EventHandler
}

// EventBus fans gateway events out to subscribers in subscription order.
// Emit runs handlers on the caller's goroutine; the gateway itself only
// emits from its dispatcher goroutine, never with the gate held.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// On subscribes handler to one event type. The returned func unsubscribes
// and may be called more than once.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll subscribes handler to every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs = append(eb.subs, subscriber{id: id, eventType: eventType, handler: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			eb.subs = slices.DeleteFunc(eb.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// Subscribers returns the number of handlers that would receive eventType.
func (eb *EventBus) Subscribers(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := 0
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == eventType {
			n++
		}
	}
	return n
}

// Emit calls every matching handler. A panicking handler is logged and the
// remaining handlers still run.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	var handlers []EventHandler
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == event.Type {
			handlers = append(handlers, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}

package telemetry

import (
	"context"
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventServiceStarting   EventType = "service.starting"
	EventServiceStarted    EventType = "service.started"
	EventServiceFailed     EventType = "service.failed"
	EventProbeAttempt      EventType = "probe.attempt"
	EventRollbackCompleted EventType = "rollback.completed"
	EventDriverClosed      EventType = "driver.closed"
)

// Event describes driver lifecycle telemetry that supervisors can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service,omitempty"`
	DriverID  string         `json:"driverId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
// A nil hub ignores the event.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking driver startup.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying hub.
func NewContext(ctx context.Context, hub *Hub) context.Context {
	if hub == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, hub)
}

// FromContext returns the hub stored in ctx, or nil. Publishing to a nil
// hub is a no-op.
func FromContext(ctx context.Context) *Hub {
	if ctx == nil {
		return nil
	}
	hub, _ := ctx.Value(contextKey{}).(*Hub)
	return hub
}

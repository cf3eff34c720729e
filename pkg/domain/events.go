package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Domain event system — the backbone of DDD communication
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

// Bounded context prefixes ensure global uniqueness of event names.
const (
	// Board context events
	EventTaskAdded         EventType = "board.task.added"
	EventTaskRemoved       EventType = "board.task.removed"
	EventTaskStarted       EventType = "board.task.started"
	EventTaskCompleted     EventType = "board.task.completed"
	EventTaskReassigned    EventType = "board.task.reassigned"
	EventTaskHoursLogged   EventType = "board.task.hours_logged"
	EventDependencyAdded   EventType = "board.dependency.added"
	EventDependencyRemoved EventType = "board.dependency.removed"

	// Webhook context events
	EventWebhookRegistered      EventType = "webhook.registered"
	EventWebhookSuspended       EventType = "webhook.suspended"
	EventWebhookResumed         EventType = "webhook.resumed"
	EventDeliveryTriggered      EventType = "webhook.delivery.triggered"
	EventDeliverySucceeded      EventType = "webhook.delivery.succeeded"
	EventDeliveryFailed         EventType = "webhook.delivery.failed"
	EventDeliveryRetryScheduled EventType = "webhook.delivery.retry_scheduled"
	EventDeliveryExhausted      EventType = "webhook.delivery.exhausted"

	// System-level events
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventID returns the globally unique identifier of this occurrence.
	// Subscribers use it to deduplicate at-least-once delivery.
	EventID() string
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	ID        string      `json:"event_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event with a unique event ID.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// ---------------------------------------------------------------------------
// Handler dispatch — explicit registration, no reflection or naming tricks
// ---------------------------------------------------------------------------

// EventHandler processes a domain event. Handlers should be idempotent.
type EventHandler func(Event)

// HandlerRegistry maps event-type discriminators to handler functions.
// Registration is explicit; unknown event types simply have no handlers.
type HandlerRegistry struct {
	handlers map[EventType][]EventHandler
	catchAll []EventHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[EventType][]EventHandler)}
}

// On registers a handler for a specific event type.
func (r *HandlerRegistry) On(eventType EventType, h EventHandler) {
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// OnAll registers a handler that receives every event.
func (r *HandlerRegistry) OnAll(h EventHandler) {
	r.catchAll = append(r.catchAll, h)
}

// Snapshot returns a copy of the registry. Dispatching from the copy is safe
// while the original keeps accepting registrations.
func (r *HandlerRegistry) Snapshot() *HandlerRegistry {
	cp := &HandlerRegistry{
		handlers: make(map[EventType][]EventHandler, len(r.handlers)),
		catchAll: append([]EventHandler(nil), r.catchAll...),
	}
	for t, hs := range r.handlers {
		cp.handlers[t] = append([]EventHandler(nil), hs...)
	}
	return cp
}

// Dispatch invokes the typed handlers for the event, then the catch-alls.
func (r *HandlerRegistry) Dispatch(e Event) {
	for _, h := range r.handlers[e.EventType()] {
		h(e)
	}
	for _, h := range r.catchAll {
		h(e)
	}
}

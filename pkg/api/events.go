// Event bridge — wires the domain event bus into the WebSocket hub so every
// committed event fans out to connected dashboard clients.
package api

import (
	"time"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/infrastructure/eventbus"
)

// EventBridge forwards published domain events to WebSocket clients.
type EventBridge struct {
	bus *eventbus.InProcessBus
	hub *WSHub
}

// NewEventBridge creates a bridge between the bus and the hub.
func NewEventBridge(bus *eventbus.InProcessBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: bus, hub: hub}
}

// Attach subscribes the bridge to every event type. Broadcasting is
// non-blocking; slow clients drop events rather than stalling publishers.
func (eb *EventBridge) Attach() {
	eb.bus.SubscribeAll(func(e domain.Event) {
		eb.hub.Broadcast(string(e.EventType()), map[string]interface{}{
			"event_id":     e.EventID(),
			"aggregate_id": e.AggregateID(),
			"occurred_at":  e.OccurredAt().UTC().Format(time.RFC3339),
			"data":         e.Payload(),
		})
	})
}

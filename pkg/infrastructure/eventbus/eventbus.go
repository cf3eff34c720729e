// Package eventbus provides the in-process implementation of the event
// publisher port. This is the infrastructure adapter for
// domain.EventPublisher.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
)

// InProcessBus dispatches events synchronously to registered handlers.
// For production fan-out this can be swapped for an async/distributed
// implementation (NATS, Redis Streams, etc.) behind the same
// domain.EventPublisher interface; delivery stays at-least-once and
// subscribers deduplicate on Event.EventID.
type InProcessBus struct {
	registry *domain.HandlerRegistry
	log      zerolog.Logger
	mu       sync.RWMutex
	closed   bool
}

// New creates a new in-process bus.
func New(log zerolog.Logger) *InProcessBus {
	return &InProcessBus{
		registry: domain.NewHandlerRegistry(),
		log:      log,
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.On(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.OnAll(handler)
}

// PublishAll dispatches a batch of events, preserving its order. Context
// cancellation between events propagates unmodified. Handlers run against a
// snapshot of the registry, outside the lock, so they may publish follow-up
// events or register further subscribers.
func (b *InProcessBus) PublishAll(ctx context.Context, events []domain.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus closed: %w", domain.ErrInvariantViolation)
	}
	registry := b.registry.Snapshot()
	b.mu.RUnlock()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		registry.Dispatch(event)
		b.log.Trace().
			Str("event_id", event.EventID()).
			Str("event_type", string(event.EventType())).
			Str("aggregate_id", event.AggregateID().String()).
			Msg("event dispatched")
	}
	return nil
}

// Close marks the bus as closed. Further publishes fail.
func (b *InProcessBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Verify interface compliance at compile time.
var _ domain.EventPublisher = (*InProcessBus)(nil)

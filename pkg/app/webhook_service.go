package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/webhook"
	"github.com/plankhq/plank/pkg/infrastructure/delivery"
	"github.com/plankhq/plank/pkg/metrics"
	"github.com/plankhq/plank/pkg/unitofwork"
)

// WebhookStore is the persistence surface the webhook use cases need.
type WebhookStore interface {
	webhook.Repository
	domain.AggregateStore
}

// WebhookService implements webhook registration, event fan-out, and the
// retry flow. Delivery timing rules live in the aggregate; this service only
// orchestrates them against the dispatcher and the unit of work.
type WebhookService struct {
	webhooks   WebhookStore
	uow        *unitofwork.Factory
	dispatcher *delivery.Dispatcher
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewWebhookService creates the webhook use-case service.
func NewWebhookService(webhooks WebhookStore, uow *unitofwork.Factory, dispatcher *delivery.Dispatcher, log zerolog.Logger, m *metrics.Metrics) *WebhookService {
	return &WebhookService{webhooks: webhooks, uow: uow, dispatcher: dispatcher, log: log, metrics: m}
}

// Register creates and persists a webhook subscription.
func (s *WebhookService) Register(ctx context.Context, name, url, secret string, eventTypes []domain.EventType, maxRetries, suspendThreshold int) (*webhook.Webhook, error) {
	w := webhook.NewWebhook(name, url, secret, eventTypes, maxRetries)
	w.SuspendThreshold = suspendThreshold
	u := s.uow.New()
	if err := u.RegisterNew(w, s.webhooks); err != nil {
		return nil, err
	}
	if err := u.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Webhooks lists every registered webhook.
func (s *WebhookService) Webhooks(ctx context.Context) ([]*webhook.Webhook, error) {
	return s.webhooks.LoadAll(ctx)
}

// SubscribeTo registers the fan-out handler so every event published on the
// bus reaches subscribed webhooks.
func (s *WebhookService) SubscribeTo(bus interface{ SubscribeAll(domain.EventHandler) }) {
	bus.SubscribeAll(func(e domain.Event) {
		s.HandleEvent(context.Background(), e)
	})
}

// HandleEvent fans one committed domain event out to every active webhook
// subscribed to its type, performing the first delivery attempt inline.
// Webhook lifecycle events are excluded from fan-out so a webhook's own
// delivery bookkeeping can never trigger further deliveries.
func (s *WebhookService) HandleEvent(ctx context.Context, event domain.Event) {
	if strings.HasPrefix(string(event.EventType()), "webhook.") {
		return
	}
	matching, err := s.webhooks.FindMatching(ctx, domain.AndSpec[*webhook.Webhook]{
		Left:  webhook.ActiveSpec{},
		Right: webhook.SubscribedSpec{EventType: event.EventType()},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook fan-out lookup failed")
		return
	}

	for _, w := range matching {
		deliveryID, err := w.Trigger(event)
		if err != nil {
			// Lost a race with a suspension; nothing to deliver.
			if errors.Is(err, domain.ErrWebhookNotTriggerable) {
				continue
			}
			s.log.Warn().Err(err).Str("webhook", w.Name).Msg("trigger failed")
			continue
		}
		if err := s.commitDirty(ctx, w); err != nil {
			s.log.Warn().Err(err).Str("webhook", w.Name).Msg("persist triggered delivery failed")
			continue
		}
		s.attempt(ctx, w, deliveryID)
	}
}

// RetryDue finds deliveries whose backoff has elapsed, returns them to
// pending, and re-attempts them. Called by the retry poller; the aggregate
// rejects retries that are early or exhausted.
func (s *WebhookService) RetryDue(ctx context.Context, now time.Time) error {
	all, err := s.webhooks.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, w := range all {
		for _, deliveryID := range w.DueRetries(now) {
			if err := w.Retry(deliveryID, now); err != nil {
				s.log.Warn().Err(err).Str("webhook", w.Name).Str("delivery", deliveryID.String()).Msg("retry rejected")
				continue
			}
			if err := s.commitDirty(ctx, w); err != nil {
				s.log.Warn().Err(err).Str("webhook", w.Name).Msg("persist retry failed")
				continue
			}
			s.attempt(ctx, w, deliveryID)
		}
	}
	return nil
}

// attempt performs one HTTP delivery and records the outcome on the
// aggregate in its own unit of work.
func (s *WebhookService) attempt(ctx context.Context, w *webhook.Webhook, deliveryID domain.EntityID) {
	dv, err := w.Delivery(deliveryID)
	if err != nil {
		s.log.Warn().Err(err).Str("webhook", w.Name).Msg("delivery lookup failed")
		return
	}

	code, deliverErr := s.dispatcher.Deliver(ctx, w, dv)
	if deliverErr != nil {
		if err := w.RecordFailure(deliveryID, deliverErr.Error(), code, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("webhook", w.Name).Msg("record failure rejected")
			return
		}
		result := "failure"
		if refreshed, err := w.Delivery(deliveryID); err == nil && refreshed.Status == webhook.DeliveryFailed {
			result = "exhausted"
		}
		s.metrics.RecordDelivery(result)
	} else {
		if err := w.RecordSuccess(deliveryID, code); err != nil {
			s.log.Warn().Err(err).Str("webhook", w.Name).Msg("record success rejected")
			return
		}
		s.metrics.RecordDelivery("success")
	}

	if err := s.commitDirty(ctx, w); err != nil {
		s.log.Warn().Err(err).Str("webhook", w.Name).Msg("persist delivery outcome failed")
	}
}

func (s *WebhookService) commitDirty(ctx context.Context, w *webhook.Webhook) error {
	u := s.uow.New()
	if err := u.RegisterDirty(w, s.webhooks); err != nil {
		return err
	}
	return u.Commit(ctx)
}

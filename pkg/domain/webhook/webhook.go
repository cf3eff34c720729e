// Package webhook defines the Webhook bounded context.
// A Webhook is an aggregate root holding one outbound subscription and its
// delivery history — the consistency boundary for retry and health rules.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plankhq/plank/pkg/domain"
)

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Status tracks the lifecycle state of a webhook subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

func (s Status) String() string { return string(s) }

// DeliveryStatus tracks one delivery attempt through its state machine:
//
//	pending -> success                      (terminal)
//	pending -> retry_scheduled -> pending   (attempt < maxRetries)
//	pending -> failed                       (terminal, retries exhausted)
type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "pending"
	DeliverySuccess        DeliveryStatus = "success"
	DeliveryFailed         DeliveryStatus = "failed"
	DeliveryRetryScheduled DeliveryStatus = "retry_scheduled"
)

func (s DeliveryStatus) String() string { return string(s) }

// Terminal returns true if the delivery can no longer change state.
func (s DeliveryStatus) Terminal() bool { return s == DeliverySuccess || s == DeliveryFailed }

// Delivery is an entity inside the Webhook aggregate recording one outbound
// notification and its attempts. NextRetryAt is set only while the delivery
// is retry_scheduled.
type Delivery struct {
	ID           domain.EntityID  `json:"id"`
	EventID      string           `json:"event_id"`
	EventType    domain.EventType `json:"event_type"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Status       DeliveryStatus   `json:"status"`
	Attempt      int              `json:"attempt"`
	NextRetryAt  *time.Time       `json:"next_retry_at,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	ResponseCode int              `json:"response_code,omitempty"`
	CreatedAt    domain.Timestamp `json:"created_at"`
	UpdatedAt    domain.Timestamp `json:"updated_at"`
}

// Due returns true if the delivery is retry_scheduled and its backoff has
// elapsed.
func (d *Delivery) Due(now time.Time) bool {
	return d.Status == DeliveryRetryScheduled && d.NextRetryAt != nil && !now.Before(*d.NextRetryAt)
}

// BackoffPolicy computes exponential retry delays with a ceiling.
type BackoffPolicy struct {
	BaseDelay time.Duration `json:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay"`
}

// DefaultBackoff doubles from one minute up to a thirty-minute ceiling.
var DefaultBackoff = BackoffPolicy{BaseDelay: time.Minute, MaxDelay: 30 * time.Minute}

// Delay returns the wait before the retry following the given failed attempt
// (1-based): min(2^(attempt-1) * base, max).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay < 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ---------------------------------------------------------------------------
// Webhook aggregate root
// ---------------------------------------------------------------------------

// Webhook is the aggregate root for one outbound subscription. It owns the
// target endpoint, the event-type filter, rolling health counters, and the
// ordered delivery history.
type Webhook struct {
	domain.AggregateRoot

	Name       string
	URL        string
	Secret     string
	Status     Status
	EventTypes []domain.EventType
	MaxRetries int
	Backoff    BackoffPolicy

	// SuspendThreshold auto-suspends the webhook after that many consecutive
	// failed deliveries. Zero disables auto-suspension.
	SuspendThreshold    int
	ConsecutiveFailures int
	TotalSuccesses      int64
	TotalFailures       int64

	deliveries []*Delivery

	CreatedAt domain.Timestamp
	UpdatedAt domain.Timestamp
}

// NewWebhook registers an active webhook subscription. maxRetries bounds the
// total attempts per delivery; a delivery whose attempt count reaches it
// fails terminally.
func NewWebhook(name, url, secret string, eventTypes []domain.EventType, maxRetries int) *Webhook {
	w := &Webhook{
		Name:       name,
		URL:        url,
		Secret:     secret,
		Status:     StatusActive,
		EventTypes: eventTypes,
		MaxRetries: maxRetries,
		Backoff:    DefaultBackoff,
		CreatedAt:  domain.Now(),
		UpdatedAt:  domain.Now(),
	}
	w.SetID(domain.NewID())
	w.RecordEvent(domain.NewEvent(domain.EventWebhookRegistered, w.ID(), map[string]string{
		"name": name,
		"url":  url,
	}))
	return w
}

// SubscribedTo returns true if the webhook listens for the event type.
func (w *Webhook) SubscribedTo(eventType domain.EventType) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// Delivery returns a copy of the delivery with the given ID.
func (w *Webhook) Delivery(id domain.EntityID) (Delivery, error) {
	d := w.delivery(id)
	if d == nil {
		return Delivery{}, fmt.Errorf("delivery %s: %w", id, domain.ErrNotFound)
	}
	return *d, nil
}

// Deliveries returns copies of all deliveries in trigger order.
func (w *Webhook) Deliveries() []Delivery {
	out := make([]Delivery, len(w.deliveries))
	for i, d := range w.deliveries {
		out[i] = *d
	}
	return out
}

// DueRetries returns the IDs of deliveries whose retry backoff has elapsed.
func (w *Webhook) DueRetries(now time.Time) []domain.EntityID {
	var out []domain.EntityID
	for _, d := range w.deliveries {
		if d.Due(now) {
			out = append(out, d.ID)
		}
	}
	return out
}

func (w *Webhook) delivery(id domain.EntityID) *Delivery {
	for _, d := range w.deliveries {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Webhook behavior — subscription lifecycle
// ---------------------------------------------------------------------------

// Suspend pauses the webhook; no new deliveries can be triggered.
func (w *Webhook) Suspend(reason string) error {
	if err := w.EnsureMutable(); err != nil {
		return err
	}
	if w.Status == StatusSuspended {
		return nil
	}
	w.Status = StatusSuspended
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventWebhookSuspended, w.ID(), map[string]string{
		"name":   w.Name,
		"reason": reason,
	}))
	return nil
}

// Resume reactivates a suspended webhook and resets its failure streak.
func (w *Webhook) Resume() error {
	if err := w.EnsureMutable(); err != nil {
		return err
	}
	if w.Status == StatusActive {
		return nil
	}
	w.Status = StatusActive
	w.ConsecutiveFailures = 0
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventWebhookResumed, w.ID(), map[string]string{
		"name": w.Name,
	}))
	return nil
}

// ---------------------------------------------------------------------------
// Webhook behavior — delivery state machine
// ---------------------------------------------------------------------------

// Trigger creates a pending delivery for a matching event. The webhook must
// be active and subscribed to the event's type.
func (w *Webhook) Trigger(event domain.Event) (domain.EntityID, error) {
	if err := w.EnsureMutable(); err != nil {
		return "", err
	}
	if w.Status != StatusActive || !w.SubscribedTo(event.EventType()) {
		return "", fmt.Errorf("webhook %s, event %s: %w", w.Name, event.EventType(), domain.ErrWebhookNotTriggerable)
	}
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return "", fmt.Errorf("marshal event %s payload: %w", event.EventID(), err)
	}
	d := &Delivery{
		ID:        domain.NewID(),
		EventID:   event.EventID(),
		EventType: event.EventType(),
		Payload:   payload,
		Status:    DeliveryPending,
		Attempt:   1,
		CreatedAt: domain.Now(),
		UpdatedAt: domain.Now(),
	}
	w.deliveries = append(w.deliveries, d)
	if err := w.checkInvariants(); err != nil {
		w.deliveries = w.deliveries[:len(w.deliveries)-1]
		return "", err
	}
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventDeliveryTriggered, w.ID(), map[string]string{
		"delivery_id": d.ID.String(),
		"event_id":    d.EventID,
		"event_type":  string(d.EventType),
	}))
	return d.ID, nil
}

// RecordSuccess marks a pending delivery as delivered and resets the
// consecutive-failure streak.
func (w *Webhook) RecordSuccess(deliveryID domain.EntityID, responseCode int) error {
	if err := w.EnsureMutable(); err != nil {
		return err
	}
	d := w.delivery(deliveryID)
	if d == nil {
		return fmt.Errorf("delivery %s: %w", deliveryID, domain.ErrNotFound)
	}
	if d.Status != DeliveryPending {
		return fmt.Errorf("delivery %s is %s, expected pending: %w", deliveryID, d.Status, domain.ErrInvariantViolation)
	}
	d.Status = DeliverySuccess
	d.ResponseCode = responseCode
	d.NextRetryAt = nil
	d.UpdatedAt = domain.Now()
	w.ConsecutiveFailures = 0
	w.TotalSuccesses++
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventDeliverySucceeded, w.ID(), map[string]string{
		"delivery_id": d.ID.String(),
		"event_id":    d.EventID,
	}))
	return nil
}

// RecordFailure marks a pending delivery attempt as failed. While attempts
// remain it schedules a retry with exponential backoff; once the retry budget
// is spent the delivery fails terminally.
func (w *Webhook) RecordFailure(deliveryID domain.EntityID, reason string, responseCode int, now time.Time) error {
	if err := w.EnsureMutable(); err != nil {
		return err
	}
	d := w.delivery(deliveryID)
	if d == nil {
		return fmt.Errorf("delivery %s: %w", deliveryID, domain.ErrNotFound)
	}
	if d.Status != DeliveryPending {
		return fmt.Errorf("delivery %s is %s, expected pending: %w", deliveryID, d.Status, domain.ErrInvariantViolation)
	}
	d.LastError = reason
	d.ResponseCode = responseCode
	d.UpdatedAt = domain.TimestampFrom(now)
	w.ConsecutiveFailures++
	w.TotalFailures++
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventDeliveryFailed, w.ID(), map[string]string{
		"delivery_id": d.ID.String(),
		"event_id":    d.EventID,
		"attempt":     fmt.Sprintf("%d", d.Attempt),
		"error":       reason,
	}))

	if d.Attempt < w.MaxRetries {
		next := now.Add(w.Backoff.Delay(d.Attempt))
		d.Status = DeliveryRetryScheduled
		d.NextRetryAt = &next
		w.RecordEvent(domain.NewEvent(domain.EventDeliveryRetryScheduled, w.ID(), map[string]string{
			"delivery_id":   d.ID.String(),
			"attempt":       fmt.Sprintf("%d", d.Attempt),
			"next_retry_at": next.UTC().Format(time.RFC3339),
		}))
	} else {
		d.Status = DeliveryFailed
		d.NextRetryAt = nil
		w.RecordEvent(domain.NewEvent(domain.EventDeliveryExhausted, w.ID(), map[string]string{
			"delivery_id": d.ID.String(),
			"event_id":    d.EventID,
			"attempts":    fmt.Sprintf("%d", d.Attempt),
		}))
	}

	if w.SuspendThreshold > 0 && w.ConsecutiveFailures >= w.SuspendThreshold && w.Status == StatusActive {
		w.Status = StatusSuspended
		w.RecordEvent(domain.NewEvent(domain.EventWebhookSuspended, w.ID(), map[string]string{
			"name":   w.Name,
			"reason": fmt.Sprintf("%d consecutive delivery failures", w.ConsecutiveFailures),
		}))
	}
	return w.checkInvariants()
}

// Retry returns a due retry-scheduled delivery to pending for another
// attempt. Retrying early fails with ErrRetryNotDue; retrying a terminally
// failed delivery fails with ErrRetriesExhausted.
func (w *Webhook) Retry(deliveryID domain.EntityID, now time.Time) error {
	if err := w.EnsureMutable(); err != nil {
		return err
	}
	d := w.delivery(deliveryID)
	if d == nil {
		return fmt.Errorf("delivery %s: %w", deliveryID, domain.ErrNotFound)
	}
	switch d.Status {
	case DeliveryFailed:
		return fmt.Errorf("delivery %s: %w", deliveryID, domain.ErrRetriesExhausted)
	case DeliveryRetryScheduled:
		// proceed
	default:
		return fmt.Errorf("delivery %s is %s, expected retry_scheduled: %w", deliveryID, d.Status, domain.ErrInvariantViolation)
	}
	if !d.Due(now) {
		return fmt.Errorf("delivery %s not due until %s: %w", deliveryID, d.NextRetryAt.UTC().Format(time.RFC3339), domain.ErrRetryNotDue)
	}
	d.Attempt++
	d.Status = DeliveryPending
	d.NextRetryAt = nil
	d.UpdatedAt = domain.TimestampFrom(now)
	w.touch()
	w.RecordEvent(domain.NewEvent(domain.EventDeliveryTriggered, w.ID(), map[string]string{
		"delivery_id": d.ID.String(),
		"event_id":    d.EventID,
		"attempt":     fmt.Sprintf("%d", d.Attempt),
	}))
	return w.checkInvariants()
}

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

func (w *Webhook) checkInvariants() error {
	for _, d := range w.deliveries {
		if d.Attempt < 1 {
			return fmt.Errorf("delivery %s has attempt %d: %w", d.ID, d.Attempt, domain.ErrInvariantViolation)
		}
		if w.MaxRetries > 0 && d.Attempt > w.MaxRetries+1 {
			return fmt.Errorf("delivery %s exceeded retry budget: %w", d.ID, domain.ErrInvariantViolation)
		}
		if (d.NextRetryAt != nil) != (d.Status == DeliveryRetryScheduled) {
			return fmt.Errorf("delivery %s retry timestamp inconsistent with status %s: %w", d.ID, d.Status, domain.ErrInvariantViolation)
		}
	}
	return nil
}

func (w *Webhook) touch() {
	w.UpdatedAt = domain.Now()
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for Webhook aggregates.
type Repository interface {
	domain.Repository[*Webhook]
	// LoadAll returns every stored webhook; used by the trigger fan-out and
	// the retry poller.
	LoadAll(ctx context.Context) ([]*Webhook, error)
	// FindMatching returns the webhooks satisfying the specification.
	FindMatching(ctx context.Context, spec domain.Specification[*Webhook]) ([]*Webhook, error)
}

// ---------------------------------------------------------------------------
// Specifications
// ---------------------------------------------------------------------------

// ActiveSpec matches webhooks that may be triggered.
type ActiveSpec struct{}

func (ActiveSpec) IsSatisfiedBy(w *Webhook) bool { return w.Status == StatusActive }

// SubscribedSpec matches webhooks listening for one event type.
type SubscribedSpec struct {
	EventType domain.EventType
}

func (s SubscribedSpec) IsSatisfiedBy(w *Webhook) bool { return w.SubscribedTo(s.EventType) }

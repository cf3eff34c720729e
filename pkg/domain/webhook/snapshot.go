package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/plankhq/plank/pkg/domain"
)

// webhookSchemaVersion is bumped whenever webhookState changes shape.
const webhookSchemaVersion = 1

// webhookState is the versioned serialized form of a Webhook.
type webhookState struct {
	Name                string             `json:"name"`
	URL                 string             `json:"url"`
	Secret              string             `json:"secret,omitempty"`
	Status              Status             `json:"status"`
	EventTypes          []domain.EventType `json:"event_types,omitempty"`
	MaxRetries          int                `json:"max_retries"`
	Backoff             BackoffPolicy      `json:"backoff"`
	SuspendThreshold    int                `json:"suspend_threshold,omitempty"`
	ConsecutiveFailures int                `json:"consecutive_failures,omitempty"`
	TotalSuccesses      int64              `json:"total_successes,omitempty"`
	TotalFailures       int64              `json:"total_failures,omitempty"`
	Deliveries          []*Delivery        `json:"deliveries,omitempty"`
	CreatedAt           domain.Timestamp   `json:"created_at"`
	UpdatedAt           domain.Timestamp   `json:"updated_at"`
}

// CreateSnapshot serializes the webhook's current state.
func (w *Webhook) CreateSnapshot() (domain.Snapshot, error) {
	state := webhookState{
		Name:                w.Name,
		URL:                 w.URL,
		Secret:              w.Secret,
		Status:              w.Status,
		EventTypes:          w.EventTypes,
		MaxRetries:          w.MaxRetries,
		Backoff:             w.Backoff,
		SuspendThreshold:    w.SuspendThreshold,
		ConsecutiveFailures: w.ConsecutiveFailures,
		TotalSuccesses:      w.TotalSuccesses,
		TotalFailures:       w.TotalFailures,
		Deliveries:          w.deliveries,
		CreatedAt:           w.CreatedAt,
		UpdatedAt:           w.UpdatedAt,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal webhook state: %w", err)
	}
	return domain.Snapshot{
		SchemaVersion: webhookSchemaVersion,
		AggregateID:   w.ID(),
		Version:       w.Version(),
		TakenAt:       domain.Now(),
		State:         raw,
	}, nil
}

// RestoreFromSnapshot replaces the webhook's state from a snapshot,
// rejecting unknown schema versions and re-checking invariants.
func (w *Webhook) RestoreFromSnapshot(s domain.Snapshot) error {
	if s.SchemaVersion != webhookSchemaVersion {
		return fmt.Errorf("unsupported webhook snapshot schema %d: %w", s.SchemaVersion, domain.ErrInvariantViolation)
	}
	var state webhookState
	if err := json.Unmarshal(s.State, &state); err != nil {
		return fmt.Errorf("unmarshal webhook state: %w", err)
	}

	restored := &Webhook{
		Name:                state.Name,
		URL:                 state.URL,
		Secret:              state.Secret,
		Status:              state.Status,
		EventTypes:          state.EventTypes,
		MaxRetries:          state.MaxRetries,
		Backoff:             state.Backoff,
		SuspendThreshold:    state.SuspendThreshold,
		ConsecutiveFailures: state.ConsecutiveFailures,
		TotalSuccesses:      state.TotalSuccesses,
		TotalFailures:       state.TotalFailures,
		deliveries:          state.Deliveries,
		CreatedAt:           state.CreatedAt,
		UpdatedAt:           state.UpdatedAt,
	}
	if restored.Backoff.BaseDelay <= 0 || restored.Backoff.MaxDelay <= 0 {
		restored.Backoff = DefaultBackoff
	}
	if err := restored.checkInvariants(); err != nil {
		return fmt.Errorf("snapshot state invalid: %w", err)
	}

	*w = *restored
	w.SetID(s.AggregateID)
	w.SetVersion(s.Version)
	w.ClearEvents()
	return nil
}

var _ domain.Snapshotter = (*Webhook)(nil)

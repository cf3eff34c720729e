// Package outbox implements the transactional outbox: events are written to
// a durable table inside the same transaction as aggregate state, and a
// relay drains them asynchronously. This closes the persisted-but-unpublished
// gap a synchronous post-commit publish leaves open.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/infrastructure/persistence"
)

// Row is one durable event waiting to be relayed.
type Row struct {
	Seq         int64
	EventID     string
	AggregateID domain.EntityID
	EventType   domain.EventType
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// Event converts the row back into a publishable domain event.
func (r Row) Event() domain.Event {
	return domain.BaseEvent{
		ID:        r.EventID,
		Type:      r.EventType,
		Timestamp: r.CreatedAt,
		AggID:     r.AggregateID,
		EventData: r.Payload,
	}
}

// SQLiteOutbox stores outbox rows in the same database as aggregate state so
// Enqueue joins the ambient unit-of-work transaction.
type SQLiteOutbox struct {
	store *persistence.SQLiteStore
}

// NewSQLiteOutbox creates an outbox on the shared store.
func NewSQLiteOutbox(store *persistence.SQLiteStore) *SQLiteOutbox {
	return &SQLiteOutbox{store: store}
}

// Enqueue writes the batch inside the transaction bound to ctx, preserving
// batch order through the autoincrement sequence.
func (o *SQLiteOutbox) Enqueue(ctx context.Context, events []domain.Event) error {
	exec := o.store.Executor(ctx)
	for _, event := range events {
		payload, err := json.Marshal(event.Payload())
		if err != nil {
			return fmt.Errorf("marshal payload for event %s: %w", event.EventID(), err)
		}
		_, err = exec.ExecContext(ctx,
			`INSERT INTO outbox (event_id, aggregate_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
			event.EventID(), event.AggregateID(), string(event.EventType()), string(payload),
			event.OccurredAt().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("enqueue event %s: %w", event.EventID(), err)
		}
	}
	return nil
}

// Pending returns up to limit unpublished rows in enqueue order.
func (o *SQLiteOutbox) Pending(ctx context.Context, limit int) ([]Row, error) {
	rows, err := o.store.Executor(ctx).QueryContext(ctx,
		`SELECT seq, event_id, aggregate_id, event_type, payload, attempts, created_at
		 FROM outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var aggID, eventType, payload, createdAt string
		if err := rows.Scan(&r.Seq, &r.EventID, &aggID, &eventType, &payload, &r.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.AggregateID = domain.EntityID(aggID)
		r.EventType = domain.EventType(eventType)
		r.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps rows as relayed.
func (o *SQLiteOutbox) MarkPublished(ctx context.Context, seqs []int64) error {
	exec := o.store.Executor(ctx)
	for _, seq := range seqs {
		if _, err := exec.ExecContext(ctx,
			`UPDATE outbox SET published_at = datetime('now') WHERE seq = ?`, seq); err != nil {
			return fmt.Errorf("mark outbox row %d published: %w", seq, err)
		}
	}
	return nil
}

// RecordAttempt increments the relay attempt counter on a row.
func (o *SQLiteOutbox) RecordAttempt(ctx context.Context, seq int64) error {
	_, err := o.store.Executor(ctx).ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1 WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("record outbox attempt for row %d: %w", seq, err)
	}
	return nil
}

// PendingCount returns the number of unpublished rows.
func (o *SQLiteOutbox) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := o.store.Executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return count, nil
}

var _ domain.OutboxStore = (*SQLiteOutbox)(nil)

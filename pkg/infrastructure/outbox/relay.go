package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/metrics"
)

// DefaultSchedule drains the outbox every minute.
const DefaultSchedule = "* * * * *"

// Relay drains pending outbox rows and hands them to the publisher. The
// drain cadence is a cron expression; rows that fail to publish stay pending
// and are retried on the next tick, so delivery is at-least-once.
type Relay struct {
	outbox    *SQLiteOutbox
	publisher domain.EventPublisher
	schedule  string
	batchSize int
	gron      *gronx.Gronx
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewRelay creates a relay. schedule must be a valid cron expression; empty
// selects DefaultSchedule.
func NewRelay(outbox *SQLiteOutbox, publisher domain.EventPublisher, schedule string, batchSize int, log zerolog.Logger, m *metrics.Metrics) (*Relay, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid outbox relay schedule %q", schedule)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		schedule:  schedule,
		batchSize: batchSize,
		gron:      gron,
		log:       log,
		metrics:   m,
	}, nil
}

// Run drains the outbox whenever the schedule fires, until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info().Str("schedule", r.schedule).Msg("outbox relay started")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Drain once at startup to clear any backlog from a previous run.
	if err := r.Drain(ctx); err != nil {
		r.log.Warn().Err(err).Msg("initial outbox drain failed")
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			due, err := r.gron.IsDue(r.schedule)
			if err != nil || !due {
				continue
			}
			if err := r.Drain(ctx); err != nil {
				r.log.Warn().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

// Drain publishes one batch of pending rows, preserving enqueue order.
func (r *Relay) Drain(ctx context.Context) error {
	rows, err := r.outbox.Pending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if count, err := r.outbox.PendingCount(ctx); err == nil {
		r.metrics.SetOutboxPending(float64(count))
	}
	if len(rows) == 0 {
		return nil
	}

	events := make([]domain.Event, len(rows))
	seqs := make([]int64, len(rows))
	for i, row := range rows {
		events[i] = row.Event()
		seqs[i] = row.Seq
		if err := r.outbox.RecordAttempt(ctx, row.Seq); err != nil {
			return err
		}
	}
	if err := r.publisher.PublishAll(ctx, events); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	if err := r.outbox.MarkPublished(ctx, seqs); err != nil {
		return err
	}
	r.metrics.RecordPublished(len(events))
	r.log.Debug().Int("events", len(events)).Msg("outbox batch relayed")
	return nil
}

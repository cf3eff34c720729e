// Package unitofwork implements the transactional coordinator at the heart
// of Plank: it tracks new/dirty/deleted aggregates for one logical operation,
// persists them atomically, and publishes their domain events only after the
// state change has durably committed.
package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/metrics"
)

// trackState classifies how a registered aggregate will be persisted.
type trackState string

const (
	stateNew     trackState = "new"
	stateDirty   trackState = "dirty"
	stateDeleted trackState = "deleted"
)

type registration struct {
	aggregate       domain.Aggregate
	store           domain.AggregateStore
	state           trackState
	originalVersion int64
}

// ---------------------------------------------------------------------------
// Factory — injects the collaborators every unit of work needs
// ---------------------------------------------------------------------------

// Factory builds units of work wired to a transaction runner and an event
// publisher. The publisher is injected here, never resolved from globals.
type Factory struct {
	runner    domain.TransactionRunner
	publisher domain.EventPublisher
	outbox    domain.OutboxStore
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// Option customizes a Factory.
type Option func(*Factory)

// WithOutbox switches commits to the transactional-outbox mode: events are
// written durably inside the commit transaction and the publisher is not
// called synchronously. A relay drains the outbox asynchronously.
func WithOutbox(store domain.OutboxStore) Option {
	return func(f *Factory) { f.outbox = store }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Factory) { f.log = log }
}

// WithMetrics wires commit/publish counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory creates a unit-of-work factory.
func NewFactory(runner domain.TransactionRunner, publisher domain.EventPublisher, opts ...Option) *Factory {
	f := &Factory{
		runner:    runner,
		publisher: publisher,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New creates a fresh unit of work for one logical operation.
func (f *Factory) New() *UnitOfWork {
	return &UnitOfWork{
		factory: f,
		regs:    make(map[domain.EntityID]*registration),
	}
}

// ---------------------------------------------------------------------------
// Unit of Work
// ---------------------------------------------------------------------------

// UnitOfWork tracks aggregates for one logical operation. It is single-use
// and not safe for concurrent use; one request or worker owns it from
// construction to commit or rollback.
type UnitOfWork struct {
	factory *Factory

	order []domain.EntityID
	regs  map[domain.EntityID]*registration

	committed  bool
	rolledBack bool
}

// Committed returns true after a successful (or publish-failed) commit.
func (u *UnitOfWork) Committed() bool { return u.committed }

// RolledBack returns true after Rollback.
func (u *UnitOfWork) RolledBack() bool { return u.rolledBack }

func (u *UnitOfWork) finalized() bool { return u.committed || u.rolledBack }

// RegisterNew tracks a newly created aggregate for insertion.
func (u *UnitOfWork) RegisterNew(aggregate domain.Aggregate, store domain.AggregateStore) error {
	if u.finalized() {
		return domain.ErrFinalizedUnitOfWork
	}
	if _, exists := u.regs[aggregate.ID()]; exists {
		return fmt.Errorf("aggregate %s: %w", aggregate.ID(), domain.ErrAlreadyRegistered)
	}
	u.track(aggregate, store, stateNew)
	return nil
}

// RegisterDirty tracks a modified aggregate for update. Re-registering the
// same ID updates its tracked state; an aggregate first registered as new
// stays new.
func (u *UnitOfWork) RegisterDirty(aggregate domain.Aggregate, store domain.AggregateStore) error {
	if u.finalized() {
		return domain.ErrFinalizedUnitOfWork
	}
	if reg, exists := u.regs[aggregate.ID()]; exists {
		if reg.state != stateNew {
			reg.state = stateDirty
		}
		reg.aggregate = aggregate
		return nil
	}
	u.track(aggregate, store, stateDirty)
	return nil
}

// RegisterDeleted tracks an aggregate for removal.
func (u *UnitOfWork) RegisterDeleted(aggregate domain.Aggregate, store domain.AggregateStore) error {
	if u.finalized() {
		return domain.ErrFinalizedUnitOfWork
	}
	if reg, exists := u.regs[aggregate.ID()]; exists {
		reg.state = stateDeleted
		reg.aggregate = aggregate
		return nil
	}
	u.track(aggregate, store, stateDeleted)
	return nil
}

func (u *UnitOfWork) track(aggregate domain.Aggregate, store domain.AggregateStore, s trackState) {
	u.order = append(u.order, aggregate.ID())
	u.regs[aggregate.ID()] = &registration{
		aggregate:       aggregate,
		store:           store,
		state:           s,
		originalVersion: aggregate.Version(),
	}
}

// Commit persists every registered aggregate inside one transaction and then
// publishes the collected events. Per-aggregate event order is preserved;
// across aggregates the batch follows registration order.
//
// A persistence or concurrency failure aborts everything: nothing is saved,
// nothing is published, and events stay attached to their aggregates. A
// publish failure after the transaction has committed is the one fatal
// inconsistency — it surfaces as *domain.PublishError, distinct from plain
// commit errors, and is logged loudly for reconciliation.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.finalized() {
		return domain.ErrFinalizedUnitOfWork
	}

	f := u.factory
	started := time.Now()
	batch := u.collectEvents()

	err := f.runner.Run(ctx, func(txCtx context.Context) error {
		for _, id := range u.order {
			reg := u.regs[id]
			if reg.aggregate.Version() != reg.originalVersion {
				return fmt.Errorf("aggregate %s changed version during unit of work: %w", id, domain.ErrConcurrencyConflict)
			}
			switch reg.state {
			case stateDeleted:
				if err := reg.store.DeleteAggregate(txCtx, id); err != nil {
					return fmt.Errorf("delete aggregate %s: %w", id, err)
				}
			default:
				if err := reg.store.SaveAggregate(txCtx, reg.aggregate); err != nil {
					return fmt.Errorf("save aggregate %s: %w", id, err)
				}
			}
		}
		if f.outbox != nil && len(batch) > 0 {
			if err := f.outbox.Enqueue(txCtx, batch); err != nil {
				return fmt.Errorf("enqueue outbox events: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		outcome := "persistence_error"
		if isConflict(err) {
			outcome = "conflict"
		}
		f.metrics.RecordCommit(outcome)
		f.log.Warn().Err(err).Int("aggregates", len(u.order)).Msg("unit of work aborted, nothing persisted")
		return err
	}

	if f.outbox == nil && len(batch) > 0 {
		if err := f.publisher.PublishAll(ctx, batch); err != nil {
			// State is durable but notifications are lost. Finalize the unit
			// of work, keep the events on their aggregates for manual
			// reconciliation, and scream.
			u.committed = true
			f.metrics.RecordCommit("publish_error")
			f.metrics.RecordPublishFailure()
			pubErr := &domain.PublishError{Events: len(batch), Err: err}
			f.log.Error().Err(err).Int("events", len(batch)).
				Msg("FATAL: state committed but events unpublished, manual reconciliation required")
			return pubErr
		}
		f.metrics.RecordPublished(len(batch))
	}

	for _, id := range u.order {
		reg := u.regs[id]
		reg.aggregate.MarkCommitted()
		if reg.state == stateDeleted {
			if t, ok := reg.aggregate.(interface{ MarkDeleted() }); ok {
				t.MarkDeleted()
			}
		}
	}
	u.committed = true
	f.metrics.RecordCommit("committed")
	f.metrics.ObserveCommitDuration(time.Since(started).Seconds())
	f.log.Debug().Int("aggregates", len(u.order)).Int("events", len(batch)).Msg("unit of work committed")
	return nil
}

// Rollback discards all tracked changes and clears every registered
// aggregate's pending events. After a commit it is a no-op.
func (u *UnitOfWork) Rollback() error {
	if u.finalized() {
		return nil
	}
	for _, reg := range u.regs {
		reg.aggregate.ClearEvents()
	}
	u.rolledBack = true
	u.factory.log.Debug().Int("aggregates", len(u.order)).Msg("unit of work rolled back")
	return nil
}

// collectEvents builds the ordered batch: registration order across
// aggregates, recording order within each.
func (u *UnitOfWork) collectEvents() []domain.Event {
	var batch []domain.Event
	for _, id := range u.order {
		batch = append(batch, u.regs[id].aggregate.UncommittedEvents()...)
	}
	return batch
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict)
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

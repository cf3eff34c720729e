// Package persistence provides repository implementations for Plank's
// aggregates. These are the infrastructure adapters for the domain
// repository interfaces; both back-ends persist aggregates through the
// snapshot contract and enforce the optimistic concurrency check.
package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/plankhq/plank/pkg/domain"
)

// ---------------------------------------------------------------------------
// In-memory transaction runner — staged writes, applied atomically
// ---------------------------------------------------------------------------

type memTxKey struct{}

type memTx struct {
	ops []func()
}

// MemoryTxRunner satisfies domain.TransactionRunner for in-memory
// repositories. Writes performed inside Run are staged and applied only if
// the body returns nil, so a failure leaves every store untouched.
type MemoryTxRunner struct{}

// NewMemoryTxRunner creates an in-memory transaction runner.
func NewMemoryTxRunner() *MemoryTxRunner { return &MemoryTxRunner{} }

func (r *MemoryTxRunner) Run(ctx context.Context, body func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{}
	if err := body(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func stagedIn(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

var _ domain.TransactionRunner = (*MemoryTxRunner)(nil)

// ---------------------------------------------------------------------------
// Generic in-memory repository
// ---------------------------------------------------------------------------

// Restorable is what the repository needs from an aggregate: versioned
// identity plus the snapshot serialization contract.
type Restorable interface {
	domain.Versioned
	domain.Snapshotter
}

// MemoryRepository is a snapshot-backed in-memory repository. Save enforces
// the optimistic check: the stored version must equal the version the
// aggregate was loaded with, and a successful save stores version+1.
type MemoryRepository[T Restorable] struct {
	newFn func() T
	mu    sync.RWMutex
	rows  map[domain.EntityID]domain.Snapshot
}

// NewMemoryRepository creates a repository for one aggregate type. newFn
// allocates an empty aggregate for reconstitution.
func NewMemoryRepository[T Restorable](newFn func() T) *MemoryRepository[T] {
	return &MemoryRepository[T]{
		newFn: newFn,
		rows:  make(map[domain.EntityID]domain.Snapshot),
	}
}

// Load reconstitutes an aggregate from its stored snapshot.
func (r *MemoryRepository[T]) Load(ctx context.Context, id domain.EntityID) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.RLock()
	snap, ok := r.rows[id]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("aggregate %s: %w", id, domain.ErrNotFound)
	}
	agg := r.newFn()
	if err := agg.RestoreFromSnapshot(snap); err != nil {
		return zero, fmt.Errorf("restore aggregate %s: %w", id, err)
	}
	return agg, nil
}

// Save persists the aggregate under version+1 after the optimistic check.
// Inside a MemoryTxRunner transaction the write is staged until the
// transaction body succeeds.
func (r *MemoryRepository[T]) Save(ctx context.Context, aggregate T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := aggregate.CreateSnapshot()
	if err != nil {
		return fmt.Errorf("snapshot aggregate %s: %w", aggregate.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.rows[aggregate.ID()]
	switch {
	case exists && stored.Version != aggregate.Version():
		return fmt.Errorf("aggregate %s: stored version %d, expected %d: %w",
			aggregate.ID(), stored.Version, aggregate.Version(), domain.ErrConcurrencyConflict)
	case !exists && aggregate.Version() != 0:
		return fmt.Errorf("aggregate %s no longer exists: %w", aggregate.ID(), domain.ErrConcurrencyConflict)
	}

	snap.Version = aggregate.Version() + 1
	apply := func() {
		r.mu.Lock()
		r.rows[snap.AggregateID] = snap
		r.mu.Unlock()
	}
	if tx := stagedIn(ctx); tx != nil {
		tx.ops = append(tx.ops, apply)
		return nil
	}
	r.rows[snap.AggregateID] = snap
	return nil
}

// Delete removes the stored aggregate.
func (r *MemoryRepository[T]) Delete(ctx context.Context, id domain.EntityID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("aggregate %s: %w", id, domain.ErrNotFound)
	}
	apply := func() {
		r.mu.Lock()
		delete(r.rows, id)
		r.mu.Unlock()
	}
	if tx := stagedIn(ctx); tx != nil {
		tx.ops = append(tx.ops, apply)
		return nil
	}
	delete(r.rows, id)
	return nil
}

// LoadAll reconstitutes every stored aggregate.
func (r *MemoryRepository[T]) LoadAll(ctx context.Context) ([]T, error) {
	r.mu.RLock()
	snaps := make([]domain.Snapshot, 0, len(r.rows))
	for _, snap := range r.rows {
		snaps = append(snaps, snap)
	}
	r.mu.RUnlock()

	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		agg := r.newFn()
		if err := agg.RestoreFromSnapshot(snap); err != nil {
			return nil, fmt.Errorf("restore aggregate %s: %w", snap.AggregateID, err)
		}
		out = append(out, agg)
	}
	return out, nil
}

// FindMatching returns all aggregates satisfying the specification.
func (r *MemoryRepository[T]) FindMatching(ctx context.Context, spec domain.Specification[T]) ([]T, error) {
	all, err := r.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, agg := range all {
		if spec.IsSatisfiedBy(agg) {
			out = append(out, agg)
		}
	}
	return out, nil
}

// SaveAggregate implements domain.AggregateStore for the unit of work.
func (r *MemoryRepository[T]) SaveAggregate(ctx context.Context, aggregate domain.Versioned) error {
	typed, ok := aggregate.(T)
	if !ok {
		return fmt.Errorf("aggregate %s has unexpected type %T: %w", aggregate.ID(), aggregate, domain.ErrInvariantViolation)
	}
	return r.Save(ctx, typed)
}

// DeleteAggregate implements domain.AggregateStore for the unit of work.
func (r *MemoryRepository[T]) DeleteAggregate(ctx context.Context, id domain.EntityID) error {
	return r.Delete(ctx, id)
}

// Package domain provides the core DDD building blocks for Plank.
// All bounded contexts share these foundational types.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Entity base — every domain object that has identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. All entities use string IDs for portability.
type EntityID string

// NewID generates a cryptographically random 16-byte hex identifier.
func NewID() EntityID {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("domain: failed to generate ID: %v", err))
	}
	return EntityID(hex.EncodeToString(b))
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// ---------------------------------------------------------------------------
// Timestamp value object
// ---------------------------------------------------------------------------

// Timestamp wraps time.Time with JSON-friendly serialization and domain semantics.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp { return Timestamp{time.Now().UTC()} }

// ZeroTime returns the zero-value timestamp.
func ZeroTime() Timestamp { return Timestamp{} }

// TimestampFrom wraps an existing time.Time.
func TimestampFrom(t time.Time) Timestamp { return Timestamp{t.UTC()} }

// ---------------------------------------------------------------------------
// Aggregate root base
// ---------------------------------------------------------------------------

// AggregateRoot is the base for all aggregate roots. It tracks the optimistic
// concurrency version, a tombstone flag, and the domain events recorded during
// a unit of work, to be dispatched only after persistence has committed.
//
// The version advances exactly once per committed change batch, never per
// individual mutator call. The event buffer is non-empty only between a
// mutation and the next successful commit or rollback.
type AggregateRoot struct {
	id      EntityID
	version int64
	events  []Event
	deleted bool
}

// ID returns the aggregate's identity.
func (a *AggregateRoot) ID() EntityID { return a.id }

// SetID sets the aggregate's identity (used during reconstitution).
func (a *AggregateRoot) SetID(id EntityID) { a.id = id }

// Version returns the optimistic concurrency version.
func (a *AggregateRoot) Version() int64 { return a.version }

// SetVersion sets the version read from storage (used during reconstitution).
func (a *AggregateRoot) SetVersion(v int64) { a.version = v }

// Deleted returns true once the aggregate has been tombstoned.
func (a *AggregateRoot) Deleted() bool { return a.deleted }

// MarkDeleted tombstones the aggregate. Further mutation is rejected.
func (a *AggregateRoot) MarkDeleted() { a.deleted = true }

// EnsureMutable rejects mutation of a tombstoned aggregate.
func (a *AggregateRoot) EnsureMutable() error {
	if a.deleted {
		return ErrAggregateDeleted
	}
	return nil
}

// RecordEvent appends a domain event to be dispatched after persistence.
func (a *AggregateRoot) RecordEvent(e Event) {
	a.events = append(a.events, e)
}

// UncommittedEvents returns the pending domain events in recording order.
func (a *AggregateRoot) UncommittedEvents() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// HasUncommittedChanges returns true if there are undispatched events.
func (a *AggregateRoot) HasUncommittedChanges() bool {
	return len(a.events) > 0
}

// MarkCommitted clears the event buffer and advances the version. Called by
// the unit of work once per successful commit that touched this aggregate.
func (a *AggregateRoot) MarkCommitted() {
	a.events = nil
	a.version++
}

// ClearEvents discards pending events without advancing the version.
// Called on rollback.
func (a *AggregateRoot) ClearEvents() {
	a.events = nil
}

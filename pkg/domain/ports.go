package domain

import "context"

// ---------------------------------------------------------------------------
// Repository pattern — persistence abstraction for all aggregates
// ---------------------------------------------------------------------------

// Versioned is the slice of the aggregate contract the persistence layer
// needs: identity plus the optimistic concurrency version.
type Versioned interface {
	ID() EntityID
	Version() int64
}

// Aggregate is the contract the unit of work requires from anything it
// tracks. AggregateRoot satisfies it; concrete aggregates embed AggregateRoot.
type Aggregate interface {
	Versioned
	HasUncommittedChanges() bool
	UncommittedEvents() []Event
	MarkCommitted()
	ClearEvents()
}

// Repository defines the persistence contract for one aggregate type.
//
// Save performs the optimistic concurrency check: if the version the
// aggregate carries no longer matches the persisted version, Save fails with
// ErrConcurrencyConflict and must leave storage untouched. A successful Save
// persists the aggregate under version+1.
type Repository[T Versioned] interface {
	// Load retrieves an aggregate by identity, or fails with ErrNotFound.
	Load(ctx context.Context, id EntityID) (T, error)
	// Save persists an aggregate (create or update) with a version check.
	Save(ctx context.Context, aggregate T) error
	// Delete removes an aggregate by identity.
	Delete(ctx context.Context, id EntityID) error
}

// Specification defines a predicate for filtering domain objects.
// Used for queries without coupling domain logic to persistence.
type Specification[T any] interface {
	IsSatisfiedBy(entity T) bool
}

// AndSpec combines two specifications with AND logic.
type AndSpec[T any] struct {
	Left  Specification[T]
	Right Specification[T]
}

func (s AndSpec[T]) IsSatisfiedBy(entity T) bool {
	return s.Left.IsSatisfiedBy(entity) && s.Right.IsSatisfiedBy(entity)
}

// NotSpec negates a specification.
type NotSpec[T any] struct {
	Spec Specification[T]
}

func (s NotSpec[T]) IsSatisfiedBy(entity T) bool {
	return !s.Spec.IsSatisfiedBy(entity)
}

// ---------------------------------------------------------------------------
// Event publishing — consumed by the unit of work after commit
// ---------------------------------------------------------------------------

// EventPublisher accepts a batch of events for at-least-once delivery.
// Ordering within one aggregate's events is preserved by the caller; the
// publisher must not reorder the batch it receives. The core does not
// deduplicate, so subscribers key idempotency on Event.EventID.
type EventPublisher interface {
	PublishAll(ctx context.Context, events []Event) error
}

// ---------------------------------------------------------------------------
// Transaction boundary
// ---------------------------------------------------------------------------

// TransactionRunner executes a body so that all persistence calls inside it
// either all apply or none do. Implementations bind the running transaction
// to the context handed to body. Cancellation errors from the underlying
// store propagate unmodified.
type TransactionRunner interface {
	Run(ctx context.Context, body func(ctx context.Context) error) error
}

// ---------------------------------------------------------------------------
// Unit of Work pattern — transactional boundary
// ---------------------------------------------------------------------------

// UnitOfWork coordinates persistence and event dispatch within a single
// business transaction. After Commit(), pending domain events are published
// and every registered aggregate is marked committed.
//
// A unit of work is single-use and not safe for concurrent use: one logical
// operation owns it from construction to commit or rollback.
type UnitOfWork interface {
	// RegisterNew tracks a newly created aggregate. Registering an ID that is
	// already tracked fails with ErrAlreadyRegistered.
	RegisterNew(aggregate Aggregate, store AggregateStore) error
	// RegisterDirty tracks a modified aggregate. Re-registering the same ID
	// updates its tracked state.
	RegisterDirty(aggregate Aggregate, store AggregateStore) error
	// RegisterDeleted tracks an aggregate for removal.
	RegisterDeleted(aggregate Aggregate, store AggregateStore) error
	// Commit persists all changes atomically and dispatches domain events.
	Commit(ctx context.Context) error
	// Rollback discards all tracked changes and pending events.
	Rollback() error
}

// OutboxStore persists events durably in the same transaction as aggregate
// state (transactional outbox). Implementations must join the transaction
// bound to ctx by the TransactionRunner.
type OutboxStore interface {
	Enqueue(ctx context.Context, events []Event) error
}

// AggregateStore is the type-erased face a typed Repository[T] presents to
// the unit of work. SaveAggregate carries the same optimistic-concurrency
// contract as Repository.Save.
type AggregateStore interface {
	SaveAggregate(ctx context.Context, aggregate Versioned) error
	DeleteAggregate(ctx context.Context, id EntityID) error
}

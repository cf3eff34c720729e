package domain

import "fmt"

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Error is a sentinel domain error. The constants below are comparable with
// errors.Is even through fmt.Errorf("%w") wrapping.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// Invariant violations — rejected synchronously inside aggregate methods,
	// state unchanged. Never retried automatically.
	ErrCircularDependency     Error = "dependency would create a cycle"
	ErrFanInExceeded          Error = "task has reached its maximum number of direct dependencies"
	ErrDuplicateEdge          Error = "dependency already exists"
	ErrDependencyNotSatisfied Error = "task has incomplete dependencies"
	ErrWebhookNotTriggerable  Error = "webhook is not active or not subscribed to this event type"
	ErrInvariantViolation     Error = "aggregate invariant violated"

	// Lifecycle errors
	ErrNotFound         Error = "not found"
	ErrAggregateDeleted Error = "aggregate has been deleted"
	ErrRetriesExhausted Error = "delivery retries exhausted"
	ErrRetryNotDue      Error = "delivery retry is not due yet"

	// Concurrency and unit-of-work errors
	ErrConcurrencyConflict Error = "aggregate version is stale, reload and retry"
	ErrAlreadyRegistered   Error = "aggregate already registered as new"
	ErrFinalizedUnitOfWork Error = "unit of work already committed or rolled back"
)

// PublishError reports the single most severe failure mode: state durably
// committed but events undelivered. It is surfaced distinctly from plain
// commit errors so operators can reconcile the missing notifications.
type PublishError struct {
	Events int
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("state committed but %d event(s) unpublished: %v", e.Events, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

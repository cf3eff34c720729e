package domain

import "encoding/json"

// ---------------------------------------------------------------------------
// Snapshot contract — point-in-time aggregate state for replay
// ---------------------------------------------------------------------------

// Snapshot is a serialized point-in-time capture of an aggregate. The schema
// version travels with the state so replay stays valid as schemas evolve:
// restorers must reject schema versions they do not understand rather than
// guess.
//
// Reconciliation rule: a snapshot captures state as of Version. Events
// recorded after the snapshot are replayed on top of the restored state, and
// the aggregate's invariants are re-checked after replay.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	AggregateID   EntityID        `json:"aggregate_id"`
	Version       int64           `json:"version"`
	TakenAt       Timestamp       `json:"taken_at"`
	State         json.RawMessage `json:"state"`
}

// Snapshotter is implemented by aggregates that support snapshot/restore.
type Snapshotter interface {
	// CreateSnapshot serializes the aggregate's current state.
	CreateSnapshot() (Snapshot, error)
	// RestoreFromSnapshot replaces the aggregate's state from a snapshot,
	// re-validating invariants before accepting it.
	RestoreFromSnapshot(s Snapshot) error
}

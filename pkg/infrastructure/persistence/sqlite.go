package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
)

// ---------------------------------------------------------------------------
// SQLite store — shared connection, schema, transaction plumbing
// ---------------------------------------------------------------------------

// SQLiteStore wraps the shared database handle. Aggregates are stored as
// versioned snapshot rows; the outbox table lives in the same database so
// event rows commit in the same transaction as state.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping reports database health.
func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS aggregates (
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		version INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (id, kind)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		published_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(seq) WHERE published_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Executor is the common face of *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTxKey struct{}

// Executor returns the transaction bound to ctx by the runner, or the plain
// database handle outside a transaction.
func (s *SQLiteStore) Executor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// TxRunner returns a domain.TransactionRunner bound to this store.
func (s *SQLiteStore) TxRunner() domain.TransactionRunner {
	return &sqliteTxRunner{store: s}
}

type sqliteTxRunner struct {
	store *SQLiteStore
}

// Run executes body inside one database transaction. Context errors from the
// driver propagate unmodified.
func (r *sqliteTxRunner) Run(ctx context.Context, body func(ctx context.Context) error) error {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := body(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.store.log.Warn().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Generic SQLite repository
// ---------------------------------------------------------------------------

// SQLiteRepository persists one aggregate kind as snapshot rows with an
// optimistic version column.
type SQLiteRepository[T Restorable] struct {
	store *SQLiteStore
	kind  string
	newFn func() T
}

// NewSQLiteRepository creates a repository for one aggregate kind.
func NewSQLiteRepository[T Restorable](store *SQLiteStore, kind string, newFn func() T) *SQLiteRepository[T] {
	return &SQLiteRepository[T]{store: store, kind: kind, newFn: newFn}
}

// Load reconstitutes an aggregate from its snapshot row.
func (r *SQLiteRepository[T]) Load(ctx context.Context, id domain.EntityID) (T, error) {
	var zero T
	row := r.store.Executor(ctx).QueryRowContext(ctx,
		`SELECT version, schema_version, state FROM aggregates WHERE id = ? AND kind = ?`, id, r.kind)

	var version int64
	var schemaVersion int
	var state string
	if err := row.Scan(&version, &schemaVersion, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%s %s: %w", r.kind, id, domain.ErrNotFound)
		}
		return zero, fmt.Errorf("load %s %s: %w", r.kind, id, err)
	}
	agg := r.newFn()
	err := agg.RestoreFromSnapshot(domain.Snapshot{
		SchemaVersion: schemaVersion,
		AggregateID:   id,
		Version:       version,
		State:         json.RawMessage(state),
	})
	if err != nil {
		return zero, fmt.Errorf("restore %s %s: %w", r.kind, id, err)
	}
	return agg, nil
}

// Save persists the aggregate under version+1. The optimistic check rejects
// a save whose expected version no longer matches the stored row.
func (r *SQLiteRepository[T]) Save(ctx context.Context, aggregate T) error {
	snap, err := aggregate.CreateSnapshot()
	if err != nil {
		return fmt.Errorf("snapshot %s %s: %w", r.kind, aggregate.ID(), err)
	}
	exec := r.store.Executor(ctx)

	res, err := exec.ExecContext(ctx,
		`UPDATE aggregates SET version = ?, schema_version = ?, state = ?, updated_at = datetime('now')
		 WHERE id = ? AND kind = ? AND version = ?`,
		aggregate.Version()+1, snap.SchemaVersion, string(snap.State),
		aggregate.ID(), r.kind, aggregate.Version())
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.kind, aggregate.ID(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.kind, aggregate.ID(), err)
	}
	if affected > 0 {
		return nil
	}

	// No row matched: either the aggregate is new, or the stored version is
	// stale.
	var stored int64
	scanErr := exec.QueryRowContext(ctx,
		`SELECT version FROM aggregates WHERE id = ? AND kind = ?`, aggregate.ID(), r.kind).Scan(&stored)
	switch {
	case errors.Is(scanErr, sql.ErrNoRows):
		if aggregate.Version() != 0 {
			return fmt.Errorf("%s %s no longer exists: %w", r.kind, aggregate.ID(), domain.ErrConcurrencyConflict)
		}
		_, err = exec.ExecContext(ctx,
			`INSERT INTO aggregates (id, kind, version, schema_version, state) VALUES (?, ?, ?, ?, ?)`,
			aggregate.ID(), r.kind, int64(1), snap.SchemaVersion, string(snap.State))
		if err != nil {
			return fmt.Errorf("insert %s %s: %w", r.kind, aggregate.ID(), err)
		}
		return nil
	case scanErr != nil:
		return fmt.Errorf("save %s %s: %w", r.kind, aggregate.ID(), scanErr)
	default:
		return fmt.Errorf("%s %s: stored version %d, expected %d: %w",
			r.kind, aggregate.ID(), stored, aggregate.Version(), domain.ErrConcurrencyConflict)
	}
}

// Delete removes the aggregate row.
func (r *SQLiteRepository[T]) Delete(ctx context.Context, id domain.EntityID) error {
	res, err := r.store.Executor(ctx).ExecContext(ctx,
		`DELETE FROM aggregates WHERE id = ? AND kind = ?`, id, r.kind)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", r.kind, id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s %s: %w", r.kind, id, domain.ErrNotFound)
	}
	return nil
}

// LoadAll reconstitutes every stored aggregate of this kind.
func (r *SQLiteRepository[T]) LoadAll(ctx context.Context) ([]T, error) {
	rows, err := r.store.Executor(ctx).QueryContext(ctx,
		`SELECT id, version, schema_version, state FROM aggregates WHERE kind = ?`, r.kind)
	if err != nil {
		return nil, fmt.Errorf("load all %s: %w", r.kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var id string
		var version int64
		var schemaVersion int
		var state string
		if err := rows.Scan(&id, &version, &schemaVersion, &state); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.kind, err)
		}
		agg := r.newFn()
		err := agg.RestoreFromSnapshot(domain.Snapshot{
			SchemaVersion: schemaVersion,
			AggregateID:   domain.EntityID(id),
			Version:       version,
			State:         json.RawMessage(state),
		})
		if err != nil {
			return nil, fmt.Errorf("restore %s %s: %w", r.kind, id, err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// FindMatching returns all aggregates of this kind satisfying the
// specification.
func (r *SQLiteRepository[T]) FindMatching(ctx context.Context, spec domain.Specification[T]) ([]T, error) {
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
func (r *SQLiteRepository[T]) SaveAggregate(ctx context.Context, aggregate domain.Versioned) error {
	typed, ok := aggregate.(T)
	if !ok {
		return fmt.Errorf("aggregate %s has unexpected type %T: %w", aggregate.ID(), aggregate, domain.ErrInvariantViolation)
	}
	return r.Save(ctx, typed)
}

// DeleteAggregate implements domain.AggregateStore for the unit of work.
func (r *SQLiteRepository[T]) DeleteAggregate(ctx context.Context, id domain.EntityID) error {
	return r.Delete(ctx, id)
}

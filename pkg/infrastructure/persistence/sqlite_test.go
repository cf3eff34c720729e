package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/task"
)

func newSQLiteBoardRepo(t *testing.T) (*SQLiteRepository[*task.Board], *SQLiteStore) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "plank.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	repo := NewSQLiteRepository(store, "board", func() *task.Board { return &task.Board{} })
	return repo, store
}

func TestSQLiteSaveThenLoadRoundTrips(t *testing.T) {
	repo, _ := newSQLiteBoardRepo(t)
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	a, err := b.AddTask("a", task.PriorityNormal, "", domain.ZeroTime(), 0)
	require.NoError(t, err)
	dep, err := b.AddTask("dep", task.PriorityHigh, "dana", domain.ZeroTime(), 2)
	require.NoError(t, err)
	require.NoError(t, b.AddDependency(a, dep))

	require.NoError(t, repo.Save(ctx, b))

	loaded, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version())
	assert.Equal(t, 2, loaded.TaskCount())
	assert.True(t, loaded.HasDependency(a, dep))
	assert.False(t, loaded.HasUncommittedChanges())
}

func TestSQLiteSaveRejectsStaleVersion(t *testing.T) {
	repo, _ := newSQLiteBoardRepo(t)
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	require.NoError(t, repo.Save(ctx, b))

	stale, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	fresh, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, fresh))
	require.ErrorIs(t, repo.Save(ctx, stale), domain.ErrConcurrencyConflict)
}

func TestSQLiteSaveRejectsDeletedAggregate(t *testing.T) {
	repo, _ := newSQLiteBoardRepo(t)
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	require.NoError(t, repo.Save(ctx, b))

	loaded, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, b.ID()))

	require.ErrorIs(t, repo.Save(ctx, loaded), domain.ErrConcurrencyConflict)
	_, err = repo.Load(ctx, b.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteTransactionRollsBackAllWrites(t *testing.T) {
	repo, store := newSQLiteBoardRepo(t)
	ctx := context.Background()
	boom := errors.New("second step failed")

	b1 := task.NewBoard("one", task.DefaultMaxFanIn)
	b2 := task.NewBoard("two", task.DefaultMaxFanIn)

	err := store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		if err := repo.Save(txCtx, b1); err != nil {
			return err
		}
		if err := repo.Save(txCtx, b2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Load(ctx, b1.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.Load(ctx, b2.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		if err := repo.Save(txCtx, b1); err != nil {
			return err
		}
		return repo.Save(txCtx, b2)
	}))
	all, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteKindsDoNotCollide(t *testing.T) {
	_, store := newSQLiteBoardRepo(t)
	ctx := context.Background()

	boards := NewSQLiteRepository(store, "board", func() *task.Board { return &task.Board{} })
	other := NewSQLiteRepository(store, "archive", func() *task.Board { return &task.Board{} })

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	require.NoError(t, boards.Save(ctx, b))

	_, err := other.Load(ctx, b.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

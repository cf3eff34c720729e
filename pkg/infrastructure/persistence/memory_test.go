package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/task"
	"github.com/plankhq/plank/pkg/domain/webhook"
)

func newBoardRepo() *MemoryRepository[*task.Board] {
	return NewMemoryRepository(func() *task.Board { return &task.Board{} })
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	repo := newBoardRepo()
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	_, err := b.AddTask("one", task.PriorityNormal, "", domain.ZeroTime(), 0)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, b))

	loaded, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version())
	assert.Equal(t, 1, loaded.TaskCount())
	assert.False(t, loaded.HasUncommittedChanges())
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	repo := newBoardRepo()
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	require.NoError(t, repo.Save(ctx, b))

	stale, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	fresh, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, fresh))

	err = repo.Save(ctx, stale)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestSaveRejectsDeletedAggregate(t *testing.T) {
	repo := newBoardRepo()
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	require.NoError(t, repo.Save(ctx, b))

	loaded, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, b.ID()))

	err = repo.Save(ctx, loaded)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestLoadUnknownIDNotFound(t *testing.T) {
	repo := newBoardRepo()
	_, err := repo.Load(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, repo.Delete(context.Background(), "missing"), domain.ErrNotFound)
}

func TestTransactionStagesWritesUntilSuccess(t *testing.T) {
	repo := newBoardRepo()
	runner := NewMemoryTxRunner()
	ctx := context.Background()

	b := task.NewBoard("apollo", task.DefaultMaxFanIn)
	boom := errors.New("later step failed")

	err := runner.Run(ctx, func(txCtx context.Context) error {
		if err := repo.Save(txCtx, b); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Load(ctx, b.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, runner.Run(ctx, func(txCtx context.Context) error {
		return repo.Save(txCtx, b)
	}))
	loaded, err := repo.Load(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version())
}

func TestFindMatchingAppliesSpecification(t *testing.T) {
	repo := NewMemoryRepository(func() *webhook.Webhook { return &webhook.Webhook{} })
	ctx := context.Background()

	active := webhook.NewWebhook("active", "https://a.example.com", "s",
		[]domain.EventType{domain.EventTaskCompleted}, 3)
	require.NoError(t, repo.Save(ctx, active))

	suspended := webhook.NewWebhook("suspended", "https://b.example.com", "s",
		[]domain.EventType{domain.EventTaskCompleted}, 3)
	require.NoError(t, suspended.Suspend("manual"))
	require.NoError(t, repo.Save(ctx, suspended))

	other := webhook.NewWebhook("other", "https://c.example.com", "s",
		[]domain.EventType{domain.EventTaskAdded}, 3)
	require.NoError(t, repo.Save(ctx, other))

	matched, err := repo.FindMatching(ctx, domain.AndSpec[*webhook.Webhook]{
		Left:  webhook.ActiveSpec{},
		Right: webhook.SubscribedSpec{EventType: domain.EventTaskCompleted},
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "active", matched[0].Name)
}

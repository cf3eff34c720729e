package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/infrastructure/persistence"
)

type capturingPublisher struct {
	events []domain.Event
	err    error
}

func (p *capturingPublisher) PublishAll(_ context.Context, events []domain.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func newTestOutbox(t *testing.T) (*SQLiteOutbox, *persistence.SQLiteStore) {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "outbox.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewSQLiteOutbox(store), store
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	box, store := newTestOutbox(t)
	ctx := context.Background()
	boom := errors.New("later step failed")

	err := store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		if err := box.Enqueue(txCtx, []domain.Event{domain.NewEvent(domain.EventTaskAdded, "b-1", nil)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := box.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPendingPreservesEnqueueOrder(t *testing.T) {
	box, store := newTestOutbox(t)
	ctx := context.Background()

	e1 := domain.NewEvent(domain.EventTaskAdded, "b-1", map[string]string{"task_id": "t-1"})
	e2 := domain.NewEvent(domain.EventTaskStarted, "b-1", map[string]string{"task_id": "t-1"})
	e3 := domain.NewEvent(domain.EventTaskCompleted, "b-1", map[string]string{"task_id": "t-1"})

	require.NoError(t, store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		return box.Enqueue(txCtx, []domain.Event{e1, e2, e3})
	}))

	rows, err := box.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, e1.EventID(), rows[0].EventID)
	assert.Equal(t, e2.EventID(), rows[1].EventID)
	assert.Equal(t, e3.EventID(), rows[2].EventID)
	assert.Equal(t, domain.EventTaskStarted, rows[1].EventType)
}

func TestRelayDrainPublishesAndMarks(t *testing.T) {
	box, store := newTestOutbox(t)
	ctx := context.Background()
	pub := &capturingPublisher{}

	require.NoError(t, store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		return box.Enqueue(txCtx, []domain.Event{
			domain.NewEvent(domain.EventTaskAdded, "b-1", nil),
			domain.NewEvent(domain.EventTaskCompleted, "b-1", nil),
		})
	}))

	relay, err := NewRelay(box, pub, "", 100, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, relay.Drain(ctx))

	assert.Len(t, pub.events, 2)
	count, err := box.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A second drain finds nothing.
	require.NoError(t, relay.Drain(ctx))
	assert.Len(t, pub.events, 2)
}

func TestRelayKeepsRowsPendingOnPublishFailure(t *testing.T) {
	box, store := newTestOutbox(t)
	ctx := context.Background()
	pub := &capturingPublisher{err: errors.New("bus down")}

	require.NoError(t, store.TxRunner().Run(ctx, func(txCtx context.Context) error {
		return box.Enqueue(txCtx, []domain.Event{domain.NewEvent(domain.EventTaskAdded, "b-1", nil)})
	}))

	relay, err := NewRelay(box, pub, "", 100, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.Error(t, relay.Drain(ctx))

	count, err := box.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rows, err := box.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Attempts)

	// Once the publisher recovers, the next drain clears the backlog.
	pub.err = nil
	require.NoError(t, relay.Drain(ctx))
	count, err = box.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewRelayRejectsBadSchedule(t *testing.T) {
	box, _ := newTestOutbox(t)
	_, err := NewRelay(box, &capturingPublisher{}, "not-a-cron", 100, zerolog.Nop(), nil)
	require.Error(t, err)
}

package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
)

func newTestWebhook(t *testing.T, maxRetries int) *Webhook {
	t.Helper()
	w := NewWebhook("ci", "https://ci.example.com/hook", "s3cret",
		[]domain.EventType{domain.EventTaskCompleted}, maxRetries)
	w.ClearEvents()
	return w
}

func taskCompletedEvent() domain.Event {
	return domain.NewEvent(domain.EventTaskCompleted, "board-1", map[string]string{"task_id": "t-1"})
}

func TestBackoffDelayDoublesUpToCeiling(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Minute, MaxDelay: 30 * time.Minute}

	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 16*time.Minute, p.Delay(5))
	assert.Equal(t, 30*time.Minute, p.Delay(6))
	assert.Equal(t, 30*time.Minute, p.Delay(20))
}

func TestTriggerRequiresActiveAndSubscribed(t *testing.T) {
	w := newTestWebhook(t, 3)

	_, err := w.Trigger(domain.NewEvent(domain.EventTaskAdded, "board-1", nil))
	require.ErrorIs(t, err, domain.ErrWebhookNotTriggerable)

	require.NoError(t, w.Suspend("maintenance"))
	_, err = w.Trigger(taskCompletedEvent())
	require.ErrorIs(t, err, domain.ErrWebhookNotTriggerable)

	require.NoError(t, w.Resume())
	id, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)

	d, err := w.Delivery(id)
	require.NoError(t, err)
	assert.Equal(t, DeliveryPending, d.Status)
	assert.Equal(t, 1, d.Attempt)
	assert.NotEmpty(t, d.Payload)
}

func TestFailureSchedulesRetryWithBackoff(t *testing.T) {
	w := newTestWebhook(t, 3)
	id, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.RecordFailure(id, "503 from endpoint", 503, now))

	d, err := w.Delivery(id)
	require.NoError(t, err)
	assert.Equal(t, DeliveryRetryScheduled, d.Status)
	require.NotNil(t, d.NextRetryAt)
	assert.Equal(t, now.Add(time.Minute), *d.NextRetryAt)
	assert.Equal(t, 1, w.ConsecutiveFailures)
}

func TestDeliveryExhaustsAfterMaxRetries(t *testing.T) {
	w := newTestWebhook(t, 3)
	id, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Attempt 1 fails: retry after 1m.
	require.NoError(t, w.RecordFailure(id, "timeout", 0, now))
	d, _ := w.Delivery(id)
	require.Equal(t, DeliveryRetryScheduled, d.Status)
	assert.Equal(t, now.Add(time.Minute), *d.NextRetryAt)

	// Attempt 2 fails: retry after 2m.
	now = now.Add(time.Minute)
	require.NoError(t, w.Retry(id, now))
	require.NoError(t, w.RecordFailure(id, "timeout", 0, now))
	d, _ = w.Delivery(id)
	require.Equal(t, DeliveryRetryScheduled, d.Status)
	assert.Equal(t, now.Add(2*time.Minute), *d.NextRetryAt)

	// Attempt 3 fails: the retry budget is spent, terminal failure.
	now = now.Add(2 * time.Minute)
	require.NoError(t, w.Retry(id, now))
	require.NoError(t, w.RecordFailure(id, "timeout", 0, now))
	d, _ = w.Delivery(id)
	assert.Equal(t, DeliveryFailed, d.Status)
	assert.Nil(t, d.NextRetryAt)
	assert.Equal(t, 3, d.Attempt)

	require.ErrorIs(t, w.Retry(id, now.Add(time.Hour)), domain.ErrRetriesExhausted)

	var exhausted bool
	for _, e := range w.UncommittedEvents() {
		if e.EventType() == domain.EventDeliveryExhausted {
			exhausted = true
		}
	}
	assert.True(t, exhausted)
}

func TestRetryBeforeBackoffElapsesRejected(t *testing.T) {
	w := newTestWebhook(t, 3)
	id, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.RecordFailure(id, "timeout", 0, now))

	require.ErrorIs(t, w.Retry(id, now.Add(30*time.Second)), domain.ErrRetryNotDue)

	// Exactly at the deadline is due.
	require.NoError(t, w.Retry(id, now.Add(time.Minute)))
	d, _ := w.Delivery(id)
	assert.Equal(t, DeliveryPending, d.Status)
	assert.Equal(t, 2, d.Attempt)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	w := newTestWebhook(t, 3)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	first, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)
	require.NoError(t, w.RecordFailure(first, "timeout", 0, now))
	require.Equal(t, 1, w.ConsecutiveFailures)

	second, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)
	require.NoError(t, w.RecordSuccess(second, 200))

	assert.Equal(t, 0, w.ConsecutiveFailures)
	assert.Equal(t, int64(1), w.TotalSuccesses)
	assert.Equal(t, int64(1), w.TotalFailures)
}

func TestAutoSuspendAfterConsecutiveFailures(t *testing.T) {
	w := newTestWebhook(t, 1)
	w.SuspendThreshold = 2
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		id, err := w.Trigger(taskCompletedEvent())
		require.NoError(t, err)
		require.NoError(t, w.RecordFailure(id, "connection refused", 0, now))
	}

	assert.Equal(t, StatusSuspended, w.Status)
	_, err := w.Trigger(taskCompletedEvent())
	require.ErrorIs(t, err, domain.ErrWebhookNotTriggerable)

	require.NoError(t, w.Resume())
	assert.Equal(t, 0, w.ConsecutiveFailures)
}

func TestDueRetries(t *testing.T) {
	w := newTestWebhook(t, 3)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	due, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)
	require.NoError(t, w.RecordFailure(due, "timeout", 0, now.Add(-2*time.Minute)))

	early, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)
	require.NoError(t, w.RecordFailure(early, "timeout", 0, now))

	ids := w.DueRetries(now)
	require.Len(t, ids, 1)
	assert.Equal(t, due, ids[0])
}

func TestSnapshotRoundTrip(t *testing.T) {
	w := newTestWebhook(t, 3)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	id, err := w.Trigger(taskCompletedEvent())
	require.NoError(t, err)
	require.NoError(t, w.RecordFailure(id, "timeout", 0, now))
	w.SetVersion(5)

	snap, err := w.CreateSnapshot()
	require.NoError(t, err)

	restored := &Webhook{}
	require.NoError(t, restored.RestoreFromSnapshot(snap))

	assert.Equal(t, w.ID(), restored.ID())
	assert.Equal(t, int64(5), restored.Version())
	assert.Equal(t, w.Name, restored.Name)
	assert.False(t, restored.HasUncommittedChanges())

	d, err := restored.Delivery(id)
	require.NoError(t, err)
	assert.Equal(t, DeliveryRetryScheduled, d.Status)
	require.NotNil(t, d.NextRetryAt)
}

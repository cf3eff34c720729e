package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	return NewBoard("apollo", DefaultMaxFanIn)
}

func addTask(t *testing.T, b *Board, title string) domain.EntityID {
	t.Helper()
	id, err := b.AddTask(title, PriorityNormal, "", domain.ZeroTime(), 0)
	require.NoError(t, err)
	return id
}

func TestAddTaskRecordsEvent(t *testing.T) {
	b := newTestBoard(t)
	b.ClearEvents()

	id := addTask(t, b, "design schema")

	got, err := b.Task(id)
	require.NoError(t, err)
	assert.Equal(t, "design schema", got.Title)
	assert.Equal(t, StatusTodo, got.Status)

	events := b.UncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTaskAdded, events[0].EventType())
	assert.Equal(t, b.ID(), events[0].AggregateID())
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")
	bb := addTask(t, b, "b")
	c := addTask(t, b, "c")

	require.NoError(t, b.AddDependency(a, bb))
	require.NoError(t, b.AddDependency(bb, c))

	err := b.AddDependency(c, a)
	require.ErrorIs(t, err, domain.ErrCircularDependency)

	// Graph must be unchanged after the rejection.
	assert.False(t, b.HasDependency(c, a))
	assert.True(t, b.HasDependency(a, bb))
	assert.True(t, b.HasDependency(bb, c))
}

func TestAddDependencyRejectsSelfLoop(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")

	err := b.AddDependency(a, a)
	require.ErrorIs(t, err, domain.ErrCircularDependency)
}

func TestAddDependencyRejectsDuplicateEdge(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")
	bb := addTask(t, b, "b")

	require.NoError(t, b.AddDependency(a, bb))
	err := b.AddDependency(a, bb)
	require.ErrorIs(t, err, domain.ErrDuplicateEdge)
}

func TestAddDependencyRejectsUnknownTasks(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")

	assert.ErrorIs(t, b.AddDependency(a, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, b.AddDependency("missing", a), domain.ErrNotFound)
}

func TestAddDependencyEnforcesFanIn(t *testing.T) {
	b := NewBoard("apollo", 2)
	target := addTask(t, b, "target")
	d1 := addTask(t, b, "d1")
	d2 := addTask(t, b, "d2")
	d3 := addTask(t, b, "d3")

	require.NoError(t, b.AddDependency(target, d1))
	require.NoError(t, b.AddDependency(target, d2))

	err := b.AddDependency(target, d3)
	require.ErrorIs(t, err, domain.ErrFanInExceeded)
	assert.Len(t, b.Dependencies(target), 2)
}

func TestStartTaskRequiresCompletedDependencies(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")
	dep := addTask(t, b, "dep")
	require.NoError(t, b.AddDependency(a, dep))

	ok, err := b.CanStart(a)
	require.NoError(t, err)
	assert.False(t, ok)
	require.ErrorIs(t, b.StartTask(a), domain.ErrDependencyNotSatisfied)

	require.NoError(t, b.StartTask(dep))
	require.NoError(t, b.CompleteTask(dep))

	ok, err = b.CanStart(a)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.StartTask(a))

	got, err := b.Task(a)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestCompleteTaskOnlyFromInProgress(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")

	require.ErrorIs(t, b.CompleteTask(a), domain.ErrInvariantViolation)

	require.NoError(t, b.StartTask(a))
	require.NoError(t, b.CompleteTask(a))

	got, err := b.Task(a)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRemoveTaskDetachesEdges(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")
	bb := addTask(t, b, "b")
	c := addTask(t, b, "c")
	require.NoError(t, b.AddDependency(a, bb))
	require.NoError(t, b.AddDependency(c, bb))

	require.NoError(t, b.RemoveTask(bb))

	assert.Empty(t, b.Dependencies(a))
	assert.Empty(t, b.Dependencies(c))
	_, err := b.Task(bb)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogHoursRejectsNonPositive(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")

	require.Error(t, b.LogHours(a, 0))
	require.Error(t, b.LogHours(a, -1))

	require.NoError(t, b.LogHours(a, 2.5))
	require.NoError(t, b.LogHours(a, 1.5))
	got, err := b.Task(a)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got.ActualHours, 1e-9)
}

func TestReassignTask(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")

	require.NoError(t, b.ReassignTask(a, "dana"))
	got, err := b.Task(a)
	require.NoError(t, err)
	assert.Equal(t, "dana", got.Assignee)
}

func TestTasksSortedByCreation(t *testing.T) {
	b := newTestBoard(t)
	addTask(t, b, "one")
	addTask(t, b, "two")
	addTask(t, b, "three")

	tasks := b.Tasks()
	require.Len(t, tasks, 3)
	for i := 1; i < len(tasks); i++ {
		assert.False(t, tasks[i].CreatedAt.Before(tasks[i-1].CreatedAt.Time))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := newTestBoard(t)
	a := addTask(t, b, "a")
	dep := addTask(t, b, "dep")
	require.NoError(t, b.AddDependency(a, dep))
	b.SetVersion(3)

	snap, err := b.CreateSnapshot()
	require.NoError(t, err)
	assert.Equal(t, b.ID(), snap.AggregateID)
	assert.Equal(t, int64(3), snap.Version)

	restored := &Board{}
	require.NoError(t, restored.RestoreFromSnapshot(snap))

	assert.Equal(t, b.ID(), restored.ID())
	assert.Equal(t, int64(3), restored.Version())
	assert.Equal(t, b.ProjectName, restored.ProjectName)
	assert.Equal(t, b.TaskCount(), restored.TaskCount())
	assert.True(t, restored.HasDependency(a, dep))
	assert.False(t, restored.HasUncommittedChanges())
}

func TestRestoreRejectsUnknownSchema(t *testing.T) {
	b := newTestBoard(t)
	snap, err := b.CreateSnapshot()
	require.NoError(t, err)
	snap.SchemaVersion = 99

	restored := &Board{}
	require.ErrorIs(t, restored.RestoreFromSnapshot(snap), domain.ErrInvariantViolation)
}

func TestMutationAfterDeleteRejected(t *testing.T) {
	b := newTestBoard(t)
	b.MarkDeleted()

	_, err := b.AddTask("late", PriorityNormal, "", domain.ZeroTime(), 0)
	require.ErrorIs(t, err, domain.ErrAggregateDeleted)
}

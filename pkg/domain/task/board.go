// Package task defines the Board bounded context.
// A Board is an aggregate root holding one project's task set and its
// dependency graph — the consistency boundary for task scheduling rules.
package task

import (
	"fmt"
	"sort"

	"github.com/plankhq/plank/pkg/domain"
)

// DefaultMaxFanIn bounds the number of direct dependencies per task unless
// the board is configured otherwise.
const DefaultMaxFanIn = 10

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Status tracks the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// Terminal returns true if the task can no longer change state.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Priority classifies task urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

// Task is an entity inside the Board aggregate. It has no behavior of its
// own; all mutation goes through the aggregate root so invariants hold.
type Task struct {
	ID             domain.EntityID  `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Status         Status           `json:"status"`
	Priority       Priority         `json:"priority"`
	Assignee       string           `json:"assignee,omitempty"`
	DueDate        domain.Timestamp `json:"due_date,omitempty"`
	EstimatedHours float64          `json:"estimated_hours,omitempty"`
	ActualHours    float64          `json:"actual_hours,omitempty"`
	CreatedAt      domain.Timestamp `json:"created_at"`
	UpdatedAt      domain.Timestamp `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Board aggregate root
// ---------------------------------------------------------------------------

// Board is the aggregate root for one project's task set. It owns the tasks,
// the directed dependency graph over them, and the rules that keep both
// consistent: acyclicity, referential closure, and the fan-in bound.
type Board struct {
	domain.AggregateRoot

	ProjectName string
	MaxFanIn    int

	tasks map[domain.EntityID]*Task
	// dependencies[t] is the set of tasks t depends on (t -> dependsOn).
	dependencies map[domain.EntityID]map[domain.EntityID]struct{}

	CreatedAt domain.Timestamp
	UpdatedAt domain.Timestamp
}

// NewBoard creates an empty board for a project. maxFanIn <= 0 selects the
// default bound.
func NewBoard(projectName string, maxFanIn int) *Board {
	if maxFanIn <= 0 {
		maxFanIn = DefaultMaxFanIn
	}
	b := &Board{
		ProjectName:  projectName,
		MaxFanIn:     maxFanIn,
		tasks:        make(map[domain.EntityID]*Task),
		dependencies: make(map[domain.EntityID]map[domain.EntityID]struct{}),
		CreatedAt:    domain.Now(),
		UpdatedAt:    domain.Now(),
	}
	b.SetID(domain.NewID())
	return b
}

// Task returns a copy of the task with the given ID.
func (b *Board) Task(id domain.EntityID) (Task, error) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return *t, nil
}

// TaskCount returns the number of tasks on the board.
func (b *Board) TaskCount() int { return len(b.tasks) }

// Tasks returns copies of every task on the board, sorted by creation time.
func (b *Board) Tasks() []Task {
	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
	})
	return out
}

// Dependencies returns the IDs the given task directly depends on.
func (b *Board) Dependencies(id domain.EntityID) []domain.EntityID {
	out := make([]domain.EntityID, 0, len(b.dependencies[id]))
	for dep := range b.dependencies[id] {
		out = append(out, dep)
	}
	return out
}

// HasDependency returns true if the edge task -> dependsOn exists.
func (b *Board) HasDependency(task, dependsOn domain.EntityID) bool {
	_, ok := b.dependencies[task][dependsOn]
	return ok
}

// ---------------------------------------------------------------------------
// Board behavior — task lifecycle
// ---------------------------------------------------------------------------

// AddTask creates a task on the board and returns its ID.
func (b *Board) AddTask(title string, priority Priority, assignee string, dueDate domain.Timestamp, estimatedHours float64) (domain.EntityID, error) {
	if err := b.EnsureMutable(); err != nil {
		return "", err
	}
	if title == "" {
		return "", fmt.Errorf("task title cannot be empty: %w", domain.ErrInvariantViolation)
	}
	if priority == "" {
		priority = PriorityNormal
	}
	t := &Task{
		ID:             domain.NewID(),
		Title:          title,
		Status:         StatusTodo,
		Priority:       priority,
		Assignee:       assignee,
		DueDate:        dueDate,
		EstimatedHours: estimatedHours,
		CreatedAt:      domain.Now(),
		UpdatedAt:      domain.Now(),
	}
	b.tasks[t.ID] = t
	if err := b.checkInvariants(); err != nil {
		delete(b.tasks, t.ID)
		return "", err
	}
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskAdded, b.ID(), map[string]string{
		"task_id":  t.ID.String(),
		"title":    t.Title,
		"priority": t.Priority.String(),
	}))
	return t.ID, nil
}

// RemoveTask deletes a task along with every dependency edge that touches
// it, preserving referential closure.
func (b *Board) RemoveTask(id domain.EntityID) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	delete(b.tasks, id)
	delete(b.dependencies, id)
	for _, deps := range b.dependencies {
		delete(deps, id)
	}
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskRemoved, b.ID(), map[string]string{
		"task_id": id.String(),
		"title":   t.Title,
	}))
	return nil
}

// CanStart returns true iff every direct dependency of the task is completed.
func (b *Board) CanStart(id domain.EntityID) (bool, error) {
	if _, ok := b.tasks[id]; !ok {
		return false, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	for dep := range b.dependencies[id] {
		if b.tasks[dep].Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// StartTask transitions a task to in-progress. All direct dependencies must
// be completed first; completing a task never auto-starts its dependents.
func (b *Board) StartTask(id domain.EntityID) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != StatusTodo {
		return fmt.Errorf("task %s is %s, only todo tasks can start: %w", id, t.Status, domain.ErrInvariantViolation)
	}
	ready, err := b.CanStart(id)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("task %s: %w", id, domain.ErrDependencyNotSatisfied)
	}
	t.Status = StatusInProgress
	t.UpdatedAt = domain.Now()
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskStarted, b.ID(), map[string]string{
		"task_id": id.String(),
		"title":   t.Title,
	}))
	return nil
}

// CompleteTask transitions an in-progress task to completed.
func (b *Board) CompleteTask(id domain.EntityID) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != StatusInProgress {
		return fmt.Errorf("task %s is %s, only in-progress tasks can complete: %w", id, t.Status, domain.ErrInvariantViolation)
	}
	t.Status = StatusCompleted
	t.UpdatedAt = domain.Now()
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskCompleted, b.ID(), map[string]string{
		"task_id": id.String(),
		"title":   t.Title,
	}))
	return nil
}

// ReassignTask changes the assignee of a task.
func (b *Board) ReassignTask(id domain.EntityID, assignee string) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	previous := t.Assignee
	t.Assignee = assignee
	t.UpdatedAt = domain.Now()
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskReassigned, b.ID(), map[string]string{
		"task_id":  id.String(),
		"from":     previous,
		"assignee": assignee,
	}))
	return nil
}

// LogHours adds worked hours to a task's actual-hours counter.
func (b *Board) LogHours(id domain.EntityID, hours float64) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if hours <= 0 {
		return fmt.Errorf("logged hours must be positive: %w", domain.ErrInvariantViolation)
	}
	t.ActualHours += hours
	t.UpdatedAt = domain.Now()
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventTaskHoursLogged, b.ID(), map[string]string{
		"task_id": id.String(),
		"hours":   fmt.Sprintf("%g", hours),
	}))
	return nil
}

// ---------------------------------------------------------------------------
// Board behavior — dependency graph
// ---------------------------------------------------------------------------

// AddDependency inserts the edge task -> dependsOn. The edge is rejected
// before any mutation when either task is unknown, the edge already exists,
// the fan-in bound is reached, or the edge would close a cycle.
func (b *Board) AddDependency(task, dependsOn domain.EntityID) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	if _, ok := b.tasks[task]; !ok {
		return fmt.Errorf("task %s: %w", task, domain.ErrNotFound)
	}
	if _, ok := b.tasks[dependsOn]; !ok {
		return fmt.Errorf("task %s: %w", dependsOn, domain.ErrNotFound)
	}
	if len(b.dependencies[task]) >= b.MaxFanIn {
		return fmt.Errorf("task %s already has %d dependencies: %w", task, b.MaxFanIn, domain.ErrFanInExceeded)
	}
	if b.HasDependency(task, dependsOn) {
		return fmt.Errorf("%s -> %s: %w", task, dependsOn, domain.ErrDuplicateEdge)
	}
	if task == dependsOn || b.reaches(dependsOn, task) {
		return fmt.Errorf("%s -> %s: %w", task, dependsOn, domain.ErrCircularDependency)
	}

	if b.dependencies[task] == nil {
		b.dependencies[task] = make(map[domain.EntityID]struct{})
	}
	b.dependencies[task][dependsOn] = struct{}{}
	if err := b.checkInvariants(); err != nil {
		delete(b.dependencies[task], dependsOn)
		return err
	}
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventDependencyAdded, b.ID(), map[string]string{
		"task_id":    task.String(),
		"depends_on": dependsOn.String(),
	}))
	return nil
}

// RemoveDependency removes the edge task -> dependsOn.
func (b *Board) RemoveDependency(task, dependsOn domain.EntityID) error {
	if err := b.EnsureMutable(); err != nil {
		return err
	}
	if !b.HasDependency(task, dependsOn) {
		return fmt.Errorf("dependency %s -> %s: %w", task, dependsOn, domain.ErrNotFound)
	}
	delete(b.dependencies[task], dependsOn)
	if len(b.dependencies[task]) == 0 {
		delete(b.dependencies, task)
	}
	b.touch()
	b.RecordEvent(domain.NewEvent(domain.EventDependencyRemoved, b.ID(), map[string]string{
		"task_id":    task.String(),
		"depends_on": dependsOn.String(),
	}))
	return nil
}

// reaches reports whether `to` is reachable from `from` along dependency
// edges. Depth-first with a visited set, O(V+E).
func (b *Board) reaches(from, to domain.EntityID) bool {
	visited := make(map[domain.EntityID]struct{})
	stack := []domain.EntityID{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == to {
			return true
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		for next := range b.dependencies[current] {
			stack = append(stack, next)
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

// checkInvariants verifies referential closure, the fan-in bound, and
// acyclicity over the whole graph.
func (b *Board) checkInvariants() error {
	for task, deps := range b.dependencies {
		if _, ok := b.tasks[task]; !ok {
			return fmt.Errorf("dependency source %s is not a task: %w", task, domain.ErrInvariantViolation)
		}
		if len(deps) > b.MaxFanIn {
			return fmt.Errorf("task %s: %w", task, domain.ErrFanInExceeded)
		}
		for dep := range deps {
			if _, ok := b.tasks[dep]; !ok {
				return fmt.Errorf("dependency target %s is not a task: %w", dep, domain.ErrInvariantViolation)
			}
		}
	}

	// Iterative three-color DFS over every component.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[domain.EntityID]int, len(b.dependencies))
	for start := range b.dependencies {
		if color[start] != white {
			continue
		}
		type frame struct {
			node domain.EntityID
			next []domain.EntityID
		}
		stack := []frame{{node: start, next: b.Dependencies(start)}}
		color[start] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := top.next[0]
			top.next = top.next[1:]
			switch color[child] {
			case grey:
				return fmt.Errorf("cycle through %s: %w", child, domain.ErrCircularDependency)
			case white:
				color[child] = grey
				stack = append(stack, frame{node: child, next: b.Dependencies(child)})
			}
		}
	}
	return nil
}

func (b *Board) touch() {
	b.UpdatedAt = domain.Now()
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for Board aggregates.
type Repository = domain.Repository[*Board]

// Package app provides application services that orchestrate domain
// operations. These services sit between the transport layer and the domain,
// driving load -> mutate -> register -> commit through the unit of work.
package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/task"
	"github.com/plankhq/plank/pkg/unitofwork"
)

// conflictRetries bounds how often a use case replays after a concurrency
// conflict before giving up and surfacing the error.
const conflictRetries = 3

// BoardStore is the persistence surface the board use cases need: the typed
// repository plus the type-erased store handed to the unit of work.
type BoardStore interface {
	task.Repository
	domain.AggregateStore
}

// BoardService implements the task-board use cases.
type BoardService struct {
	boards BoardStore
	uow    *unitofwork.Factory
	log    zerolog.Logger
}

// NewBoardService creates the board use-case service.
func NewBoardService(boards BoardStore, uow *unitofwork.Factory, log zerolog.Logger) *BoardService {
	return &BoardService{boards: boards, uow: uow, log: log}
}

// CreateBoard creates and persists an empty board for a project.
func (s *BoardService) CreateBoard(ctx context.Context, projectName string, maxFanIn int) (*task.Board, error) {
	b := task.NewBoard(projectName, maxFanIn)
	u := s.uow.New()
	if err := u.RegisterNew(b, s.boards); err != nil {
		return nil, err
	}
	if err := u.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBoard removes a board and publishes nothing beyond the events the
// caller already recorded on it.
func (s *BoardService) DeleteBoard(ctx context.Context, boardID domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(*task.Board) error { return nil }, true)
}

// AddTask creates a task on a board and returns its ID.
func (s *BoardService) AddTask(ctx context.Context, boardID domain.EntityID, title string, priority task.Priority, assignee string, dueDate domain.Timestamp, estimatedHours float64) (domain.EntityID, error) {
	var taskID domain.EntityID
	err := s.withBoard(ctx, boardID, func(b *task.Board) error {
		id, err := b.AddTask(title, priority, assignee, dueDate, estimatedHours)
		if err != nil {
			return err
		}
		taskID = id
		return nil
	}, false)
	return taskID, err
}

// RemoveTask deletes a task and every edge touching it.
func (s *BoardService) RemoveTask(ctx context.Context, boardID, taskID domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.RemoveTask(taskID)
	}, false)
}

// AddDependency inserts the edge task -> dependsOn.
func (s *BoardService) AddDependency(ctx context.Context, boardID, taskID, dependsOn domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.AddDependency(taskID, dependsOn)
	}, false)
}

// RemoveDependency removes the edge task -> dependsOn.
func (s *BoardService) RemoveDependency(ctx context.Context, boardID, taskID, dependsOn domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.RemoveDependency(taskID, dependsOn)
	}, false)
}

// StartTask moves a task to in-progress once its dependencies are done.
func (s *BoardService) StartTask(ctx context.Context, boardID, taskID domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.StartTask(taskID)
	}, false)
}

// CompleteTask moves an in-progress task to completed.
func (s *BoardService) CompleteTask(ctx context.Context, boardID, taskID domain.EntityID) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.CompleteTask(taskID)
	}, false)
}

// ReassignTask changes a task's assignee.
func (s *BoardService) ReassignTask(ctx context.Context, boardID, taskID domain.EntityID, assignee string) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.ReassignTask(taskID, assignee)
	}, false)
}

// LogHours records worked hours on a task.
func (s *BoardService) LogHours(ctx context.Context, boardID, taskID domain.EntityID, hours float64) error {
	return s.withBoard(ctx, boardID, func(b *task.Board) error {
		return b.LogHours(taskID, hours)
	}, false)
}

// Board loads a board for reading.
func (s *BoardService) Board(ctx context.Context, boardID domain.EntityID) (*task.Board, error) {
	return s.boards.Load(ctx, boardID)
}

// withBoard loads the board, applies the mutation, and commits through a
// fresh unit of work. On a concurrency conflict the whole operation is
// replayed against freshly loaded state, up to conflictRetries times — the
// engine itself never retries, the use case does.
func (s *BoardService) withBoard(ctx context.Context, boardID domain.EntityID, mutate func(*task.Board) error, remove bool) error {
	for attempt := 1; ; attempt++ {
		b, err := s.boards.Load(ctx, boardID)
		if err != nil {
			return err
		}
		if err := mutate(b); err != nil {
			return err
		}

		u := s.uow.New()
		if remove {
			err = u.RegisterDeleted(b, s.boards)
		} else {
			err = u.RegisterDirty(b, s.boards)
		}
		if err != nil {
			return err
		}

		err = u.Commit(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) && attempt < conflictRetries {
			s.log.Debug().Str("board", boardID.String()).Int("attempt", attempt).Msg("concurrency conflict, replaying")
			continue
		}
		return err
	}
}

// Board API endpoints — task boards, tasks, and dependency edges.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/task"
)

// boardView is the wire shape of a board.
type boardView struct {
	ID           domain.EntityID                       `json:"id"`
	Version      int64                                 `json:"version"`
	ProjectName  string                                `json:"project_name"`
	MaxFanIn     int                                   `json:"max_fan_in"`
	Tasks        []task.Task                           `json:"tasks"`
	Dependencies map[domain.EntityID][]domain.EntityID `json:"dependencies,omitempty"`
}

func viewBoard(b *task.Board) boardView {
	v := boardView{
		ID:          b.ID(),
		Version:     b.Version(),
		ProjectName: b.ProjectName,
		MaxFanIn:    b.MaxFanIn,
		Tasks:       b.Tasks(),
	}
	for _, t := range v.Tasks {
		if deps := b.Dependencies(t.ID); len(deps) > 0 {
			if v.Dependencies == nil {
				v.Dependencies = make(map[domain.EntityID][]domain.EntityID)
			}
			v.Dependencies[t.ID] = deps
		}
	}
	return v
}

// POST /api/boards
func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"project_name"`
		MaxFanIn    int    `json:"max_fan_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProjectName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_name required"})
		return
	}
	if req.MaxFanIn <= 0 {
		req.MaxFanIn = s.config.Board.MaxFanIn
	}

	b, err := s.container.BoardService.CreateBoard(r.Context(), req.ProjectName, req.MaxFanIn)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, viewBoard(b))
}

// GET /api/boards/{id}
func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := s.container.BoardService.Board(r.Context(), domain.EntityID(r.PathValue("id")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewBoard(b))
}

// DELETE /api/boards/{id}
func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.container.BoardService.DeleteBoard(r.Context(), domain.EntityID(r.PathValue("id"))); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/boards/{id}/tasks
func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title          string        `json:"title"`
		Priority       task.Priority `json:"priority"`
		Assignee       string        `json:"assignee"`
		DueDate        *time.Time    `json:"due_date"`
		EstimatedHours float64       `json:"estimated_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title required"})
		return
	}
	if req.Priority == "" {
		req.Priority = task.PriorityNormal
	}
	due := domain.ZeroTime()
	if req.DueDate != nil {
		due = domain.TimestampFrom(*req.DueDate)
	}

	taskID, err := s.container.BoardService.AddTask(r.Context(),
		domain.EntityID(r.PathValue("id")), req.Title, req.Priority, req.Assignee, due, req.EstimatedHours)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"task_id": taskID})
}

// DELETE /api/boards/{id}/tasks/{task}
func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	err := s.container.BoardService.RemoveTask(r.Context(),
		domain.EntityID(r.PathValue("id")), domain.EntityID(r.PathValue("task")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/boards/{id}/tasks/{task}/start
func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	err := s.container.BoardService.StartTask(r.Context(),
		domain.EntityID(r.PathValue("id")), domain.EntityID(r.PathValue("task")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(task.StatusInProgress)})
}

// POST /api/boards/{id}/tasks/{task}/complete
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.container.BoardService.CompleteTask(r.Context(),
		domain.EntityID(r.PathValue("id")), domain.EntityID(r.PathValue("task")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(task.StatusCompleted)})
}

// POST /api/boards/{id}/tasks/{task}/assignee
func (s *Server) handleReassignTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assignee string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.BoardService.ReassignTask(r.Context(),
		domain.EntityID(r.PathValue("id")), domain.EntityID(r.PathValue("task")), req.Assignee)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assignee": req.Assignee})
}

// POST /api/boards/{id}/tasks/{task}/hours
func (s *Server) handleLogHours(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hours float64 `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.BoardService.LogHours(r.Context(),
		domain.EntityID(r.PathValue("id")), domain.EntityID(r.PathValue("task")), req.Hours)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"hours": req.Hours})
}

// dependencyRequest names one edge: task depends on depends_on.
type dependencyRequest struct {
	TaskID    domain.EntityID `json:"task_id"`
	DependsOn domain.EntityID `json:"depends_on"`
}

// POST /api/boards/{id}/dependencies
func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.BoardService.AddDependency(r.Context(),
		domain.EntityID(r.PathValue("id")), req.TaskID, req.DependsOn)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// DELETE /api/boards/{id}/dependencies
func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.BoardService.RemoveDependency(r.Context(),
		domain.EntityID(r.PathValue("id")), req.TaskID, req.DependsOn)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCircularDependency),
		errors.Is(err, domain.ErrFanInExceeded),
		errors.Is(err, domain.ErrDuplicateEdge),
		errors.Is(err, domain.ErrDependencyNotSatisfied),
		errors.Is(err, domain.ErrWebhookNotTriggerable),
		errors.Is(err, domain.ErrInvariantViolation),
		errors.Is(err, domain.ErrAggregateDeleted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

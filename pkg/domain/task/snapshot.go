package task

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/plankhq/plank/pkg/domain"
)

// boardSchemaVersion is bumped whenever boardState changes shape.
const boardSchemaVersion = 1

// boardState is the versioned serialized form of a Board. Dependency sets are
// flattened to sorted ID lists so snapshots are byte-stable.
type boardState struct {
	ProjectName  string                               `json:"project_name"`
	MaxFanIn     int                                  `json:"max_fan_in"`
	Tasks        map[domain.EntityID]*Task            `json:"tasks"`
	Dependencies map[domain.EntityID][]domain.EntityID `json:"dependencies,omitempty"`
	CreatedAt    domain.Timestamp                     `json:"created_at"`
	UpdatedAt    domain.Timestamp                     `json:"updated_at"`
}

// CreateSnapshot serializes the board's current state.
func (b *Board) CreateSnapshot() (domain.Snapshot, error) {
	state := boardState{
		ProjectName:  b.ProjectName,
		MaxFanIn:     b.MaxFanIn,
		Tasks:        b.tasks,
		Dependencies: make(map[domain.EntityID][]domain.EntityID, len(b.dependencies)),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	for task, deps := range b.dependencies {
		ids := make([]domain.EntityID, 0, len(deps))
		for dep := range deps {
			ids = append(ids, dep)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		state.Dependencies[task] = ids
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal board state: %w", err)
	}
	return domain.Snapshot{
		SchemaVersion: boardSchemaVersion,
		AggregateID:   b.ID(),
		Version:       b.Version(),
		TakenAt:       domain.Now(),
		State:         raw,
	}, nil
}

// RestoreFromSnapshot replaces the board's state from a snapshot, rejecting
// unknown schema versions and re-checking invariants before accepting it.
func (b *Board) RestoreFromSnapshot(s domain.Snapshot) error {
	if s.SchemaVersion != boardSchemaVersion {
		return fmt.Errorf("unsupported board snapshot schema %d: %w", s.SchemaVersion, domain.ErrInvariantViolation)
	}
	var state boardState
	if err := json.Unmarshal(s.State, &state); err != nil {
		return fmt.Errorf("unmarshal board state: %w", err)
	}

	restored := &Board{
		ProjectName:  state.ProjectName,
		MaxFanIn:     state.MaxFanIn,
		tasks:        state.Tasks,
		dependencies: make(map[domain.EntityID]map[domain.EntityID]struct{}, len(state.Dependencies)),
		CreatedAt:    state.CreatedAt,
		UpdatedAt:    state.UpdatedAt,
	}
	if restored.tasks == nil {
		restored.tasks = make(map[domain.EntityID]*Task)
	}
	if restored.MaxFanIn <= 0 {
		restored.MaxFanIn = DefaultMaxFanIn
	}
	for task, deps := range state.Dependencies {
		set := make(map[domain.EntityID]struct{}, len(deps))
		for _, dep := range deps {
			set[dep] = struct{}{}
		}
		restored.dependencies[task] = set
	}
	if err := restored.checkInvariants(); err != nil {
		return fmt.Errorf("snapshot state invalid: %w", err)
	}

	b.ProjectName = restored.ProjectName
	b.MaxFanIn = restored.MaxFanIn
	b.tasks = restored.tasks
	b.dependencies = restored.dependencies
	b.CreatedAt = restored.CreatedAt
	b.UpdatedAt = restored.UpdatedAt
	b.SetID(s.AggregateID)
	b.SetVersion(s.Version)
	b.ClearEvents()
	return nil
}

var _ domain.Snapshotter = (*Board)(nil)

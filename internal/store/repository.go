package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrIllegalTransition = errors.New("store: illegal status transition")
)

// RunPatch is a partial update to a TaskRun. Nil fields are untouched. A
// patch carrying Status together with other fields is applied atomically
// from readers' perspective.
type RunPatch struct {
	Status         *Status
	Plan           *string
	Results        map[string]any
	Error          *RunError
	RevisionRounds *int
	BranchName     *string
	CommitSHA      *string
	PRURL          *string
	GitStatus      *GitStatus
	Started        bool // stamp StartedAt now
	Completed      bool // stamp CompletedAt now and derive Duration
}

// Repository is the narrow persistence surface the executor consumes.
// Implementations backed by a relational store must wrap each mutation in a
// single transaction.
type Repository interface {
	CreateTask(t *Task) error
	LoadTask(taskID string) (*Task, error)

	// CreateRun assigns the next run_number for the task and initial status
	// pending.
	CreateRun(taskID string) (*TaskRun, error)
	// UpdateRun validates status-transition legality and applies the patch
	// atomically. Illegal transitions are rejected with ErrIllegalTransition.
	UpdateRun(runID string, patch RunPatch) (*TaskRun, error)
	LoadRun(runID string) (*TaskRun, error)

	AppendArtifact(runID string, a Artifact) error
	Artifacts(runID string) ([]Artifact, error)

	RecordMetric(m Metric) error
	Metrics(taskID string) ([]Metric, error)

	// BumpTaskCounters updates the task aggregates for one finished run.
	// total_runs is monotonic; last_run_at is non-decreasing.
	BumpTaskCounters(taskID string, outcome Outcome) error
}

// TransitionError wraps ErrIllegalTransition with the offending pair.
func TransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is the in-process Repository. Every mutation runs under one
// mutex, which gives the same atomicity a relational transaction would.
type MemoryStore struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	runs      map[string]*TaskRun
	artifacts map[string][]Artifact
	metrics   map[string][]Metric // keyed by task id
	runSeq    map[string]int      // task id -> last run_number
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     map[string]*Task{},
		runs:      map[string]*TaskRun{},
		artifacts: map[string][]Artifact{},
		metrics:   map[string][]Metric{},
		runSeq:    map[string]int{},
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) LoadTask(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CreateRun(taskID string) (*TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	s.runSeq[taskID]++
	run := &TaskRun{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		RunNumber: s.runSeq[taskID],
		Status:    StatusPending,
		GitStatus: GitPending,
		CreatedAt: s.now(),
	}
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(runID string, patch RunPatch) (*TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if patch.Status != nil && *patch.Status != run.Status {
		if !LegalTransition(run.Status, *patch.Status) {
			return nil, TransitionError(run.Status, *patch.Status)
		}
	}
	// Transition legality holds; apply everything in one critical section.
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.Plan != nil {
		run.Plan = *patch.Plan
	}
	if patch.Results != nil {
		run.Results = patch.Results
	}
	if patch.Error != nil {
		run.Error = patch.Error
	}
	if patch.RevisionRounds != nil {
		run.RevisionRounds = *patch.RevisionRounds
	}
	if patch.BranchName != nil {
		run.BranchName = *patch.BranchName
	}
	if patch.CommitSHA != nil {
		run.CommitSHA = *patch.CommitSHA
	}
	if patch.PRURL != nil {
		run.PRURL = *patch.PRURL
	}
	if patch.GitStatus != nil {
		run.GitStatus = *patch.GitStatus
	}
	if patch.Started && run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if patch.Completed && run.CompletedAt.IsZero() {
		run.CompletedAt = s.now()
		if !run.StartedAt.IsZero() {
			run.Duration = run.CompletedAt.Sub(run.StartedAt)
		}
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) LoadRun(runID string) (*TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) AppendArtifact(runID string, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	a.RunID = runID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.artifacts[runID] = append(s.artifacts[runID], a)
	return nil
}

func (s *MemoryStore) Artifacts(runID string) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Artifact, len(s.artifacts[runID]))
	copy(out, s.artifacts[runID])
	return out, nil
}

func (s *MemoryStore) RecordMetric(m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	s.metrics[m.TaskID] = append(s.metrics[m.TaskID], m)
	return nil
}

func (s *MemoryStore) Metrics(taskID string) ([]Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metric, len(s.metrics[taskID]))
	copy(out, s.metrics[taskID])
	return out, nil
}

func (s *MemoryStore) BumpTaskCounters(taskID string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	t.TotalRuns++
	if outcome.Success {
		t.SuccessfulRuns++
	} else {
		t.FailedRuns++
		t.LastError = outcome.Error
	}
	if now := s.now(); now.After(t.LastRunAt) {
		t.LastRunAt = now
	}
	return nil
}

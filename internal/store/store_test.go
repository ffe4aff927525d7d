package store

import (
	"errors"
	"testing"
	"time"
)

func newTask(t *testing.T, s *MemoryStore) *Task {
	t.Helper()
	task := &Task{Title: "Hello API", OutputMode: OutputGenerateNew}
	if err := s.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestCreateRun_AssignsMonotonicRunNumbers(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	r1, err := s.CreateRun(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.CreateRun(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r1.RunNumber != 1 || r2.RunNumber != 2 {
		t.Fatalf("run numbers = %d, %d", r1.RunNumber, r2.RunNumber)
	}
	if r1.Status != StatusPending {
		t.Fatalf("initial status = %s", r1.Status)
	}
}

func setStatus(t *testing.T, s *MemoryStore, runID string, st Status) *TaskRun {
	t.Helper()
	run, err := s.UpdateRun(runID, RunPatch{Status: &st})
	if err != nil {
		t.Fatalf("transition to %s: %v", st, err)
	}
	return run
}

func TestUpdateRun_HappyPathThroughGraph(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	path := []Status{
		StatusAnalyzing, StatusAwaitingApproval, StatusApproved,
		StatusExecuting, StatusValidating, StatusCommitting,
		StatusPushing, StatusPROpened, StatusCompleted,
	}
	for _, st := range path {
		run = setStatus(t, s, run.ID, st)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("final status = %s", run.Status)
	}
}

func TestUpdateRun_RevisionLoopIsLegal(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	for _, st := range []Status{StatusAnalyzing, StatusAwaitingApproval, StatusApproved, StatusExecuting, StatusValidating} {
		setStatus(t, s, run.ID, st)
	}
	// validating -> executing is the revision back-edge.
	setStatus(t, s, run.ID, StatusExecuting)
	setStatus(t, s, run.ID, StatusValidating)
	setStatus(t, s, run.ID, StatusCompleted)
}

func TestUpdateRun_RejectsIllegalTransitions(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)

	cases := []struct {
		from, to Status
	}{
		{StatusPending, StatusExecuting},
		{StatusPending, StatusCompleted},
		{StatusAnalyzing, StatusApproved},
		{StatusCompleted, StatusExecuting},
		{StatusFailed, StatusPending},
		{StatusCancelled, StatusAnalyzing},
		{StatusTimeout, StatusCompleted},
		{StatusExecuting, StatusCommitting},
	}
	for _, tc := range cases {
		run, _ := s.CreateRun(task.ID)
		walkTo(t, s, run.ID, tc.from)
		st := tc.to
		if _, err := s.UpdateRun(run.ID, RunPatch{Status: &st}); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s: err = %v, want ErrIllegalTransition", tc.from, tc.to, err)
		}
	}
}

// walkTo advances a fresh pending run to the target status along legal edges.
func walkTo(t *testing.T, s *MemoryStore, runID string, target Status) {
	t.Helper()
	switch target {
	case StatusPending:
		return
	case StatusFailed, StatusCancelled, StatusTimeout:
		// Reachable from pending directly.
		setStatus(t, s, runID, target)
		return
	}
	order := []Status{
		StatusAnalyzing, StatusAwaitingApproval, StatusApproved,
		StatusExecuting, StatusValidating, StatusPatching,
		StatusCommitting, StatusPushing, StatusPROpened, StatusCompleted,
	}
	for _, st := range order {
		setStatus(t, s, runID, st)
		if st == target {
			return
		}
	}
}

func TestUpdateRun_AtomicStatusPlusGitFields(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	for _, st := range []Status{StatusAnalyzing, StatusAwaitingApproval, StatusApproved, StatusExecuting, StatusValidating, StatusCommitting} {
		setStatus(t, s, run.ID, st)
	}
	st := StatusPushing
	sha := "abc123"
	gs := GitCommitted
	updated, err := s.UpdateRun(run.ID, RunPatch{Status: &st, CommitSHA: &sha, GitStatus: &gs})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusPushing || updated.CommitSHA != "abc123" || updated.GitStatus != GitCommitted {
		t.Fatalf("run = %+v", updated)
	}
}

func TestUpdateRun_IllegalTransitionLeavesFieldsUntouched(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	st := StatusCompleted
	sha := "deadbeef"
	if _, err := s.UpdateRun(run.ID, RunPatch{Status: &st, CommitSHA: &sha}); err == nil {
		t.Fatal("expected rejection")
	}
	got, _ := s.LoadRun(run.ID)
	if got.CommitSHA != "" {
		t.Fatalf("field applied despite illegal transition: %q", got.CommitSHA)
	}
}

func TestCompletedAtAndDuration(t *testing.T) {
	s := NewMemoryStore()
	base := time.Unix(5000, 0)
	s.now = func() time.Time { return base }
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	if _, err := s.UpdateRun(run.ID, RunPatch{Started: true}); err != nil {
		t.Fatal(err)
	}
	base = base.Add(42 * time.Second)
	setStatus(t, s, run.ID, StatusAnalyzing)
	st := StatusFailed
	got, err := s.UpdateRun(run.ID, RunPatch{Status: &st, Completed: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Duration != 42*time.Second {
		t.Fatalf("duration = %v", got.Duration)
	}
	if got.CompletedAt.Before(got.StartedAt) {
		t.Fatal("completed_at before started_at")
	}
}

func TestBumpTaskCounters(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	if err := s.BumpTaskCounters(task.ID, Outcome{Success: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.BumpTaskCounters(task.ID, Outcome{Success: false, Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LoadTask(task.ID)
	if got.TotalRuns != 2 || got.SuccessfulRuns != 1 || got.FailedRuns != 1 {
		t.Fatalf("counters = %+v", got)
	}
	if got.LastError != "boom" {
		t.Fatalf("last error = %q", got.LastError)
	}
	if got.LastRunAt.IsZero() {
		t.Fatal("last_run_at not stamped")
	}
}

func TestArtifactsAndMetrics(t *testing.T) {
	s := NewMemoryStore()
	task := newTask(t, s)
	run, _ := s.CreateRun(task.ID)
	if err := s.AppendArtifact(run.ID, Artifact{Name: "manifest", Type: ArtifactCode, Content: []byte("FILE: x\n")}); err != nil {
		t.Fatal(err)
	}
	arts, _ := s.Artifacts(run.ID)
	if len(arts) != 1 || arts[0].RunID != run.ID {
		t.Fatalf("artifacts = %+v", arts)
	}
	if err := s.RecordMetric(Metric{TaskID: task.ID, RunID: run.ID, Name: "phase_duration", Type: MetricTimer, Value: 1.5}); err != nil {
		t.Fatal(err)
	}
	ms, _ := s.Metrics(task.ID)
	if len(ms) != 1 || ms[0].Name != "phase_duration" {
		t.Fatalf("metrics = %+v", ms)
	}
}

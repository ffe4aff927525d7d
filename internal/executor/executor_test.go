package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/cache"
	"github.com/mgx-dev/mgx/internal/config"
	"github.com/mgx-dev/mgx/internal/event"
	"github.com/mgx-dev/mgx/internal/githooks"
	"github.com/mgx-dev/mgx/internal/llm"
	"github.com/mgx-dev/mgx/internal/patch"
	"github.com/mgx-dev/mgx/internal/store"
)

const validFastAPIManifest = `FILE: main.py
from fastapi import FastAPI

app = FastAPI()


@app.get("/hello")
def hello():
    return {"message": "Hello, World!"}
FILE: requirements.txt
fastapi
uvicorn
`

const validFastAPITests = `FILE: test_main.py
from fastapi.testclient import TestClient

from main import app


def test_hello():
    assert TestClient(app).get("/hello").status_code == 200
`

const invalidFastAPIManifest = `FILE: main.py
from fastapi import FastAPI

app = FastAPI()
`

const analyzeReply = "complexity: S\nstack: fastapi\nsketch:\nmain.py\nrequirements.txt"
const planReply = "1. Create main.py with the endpoint\n2. Add requirements.txt"

func scriptedHappyClient() *llm.ScriptedClient {
	c := llm.NewScriptedClient()
	c.Script("analyze", analyzeReply)
	c.Script("plan", planReply)
	c.Script("code", validFastAPIManifest)
	c.Script("test", validFastAPITests)
	c.Script("review", `{"decision": "approved"}`)
	return c
}

func newTestExecutor(t *testing.T, client llm.Client, mutate func(*config.Config)) (*Executor, *store.MemoryStore, *broadcast.Broadcaster) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	st := store.NewMemoryStore()
	bus := broadcast.New(cfg.SubscriberQueueCapacity)
	e := New(st, bus, cache.NewMemory(cfg.CacheMaxEntries, cfg.CacheTTL()), client, cfg, nil)
	t.Cleanup(func() {
		e.Wait()
		bus.Close()
	})
	return e, st, bus
}

func createTask(t *testing.T, st *store.MemoryStore, mutate func(*store.Task)) *store.Task {
	t.Helper()
	task := &store.Task{
		Title:       "Hello API",
		Description: "Build a hello world HTTP API with one GET endpoint.",
		TargetStack: "fastapi",
		ProjectType: store.ProjectAPI,
		OutputMode:  store.OutputGenerateNew,
	}
	if mutate != nil {
		mutate(task)
	}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	return task
}

// drive starts a run and pumps its events until a task lifecycle terminal.
// approve is invoked on every approval_required event; nil means never
// respond.
func drive(t *testing.T, e *Executor, bus *broadcast.Broadcaster, taskID string, approve func(runID string)) (*store.TaskRun, []event.Envelope) {
	t.Helper()
	sub := bus.Subscribe(broadcast.TaskChannel(taskID))
	defer sub.Unsubscribe()

	run, err := e.StartRun(taskID)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var events []event.Envelope
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			t.Fatalf("event stream ended early; got %d events", len(events))
		}
		events = append(events, ev)
		if ev.EventType == event.ApprovalRequired && approve != nil {
			approve(run.ID)
		}
		switch ev.EventType {
		case event.TaskCompleted, event.TaskFailed, event.TaskCancelled:
			e.Wait()
			final, err := e.Store.LoadRun(run.ID)
			if err != nil {
				t.Fatal(err)
			}
			return final, events
		}
	}
}

func eventTypes(events []event.Envelope) []event.Type {
	out := make([]event.Type, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

func assertSubsequence(t *testing.T, got []event.Envelope, want ...event.Type) {
	t.Helper()
	i := 0
	for _, ev := range got {
		if i < len(want) && ev.EventType == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("event subsequence %v not found in %v", want[i:], eventTypes(got))
	}
}

func TestRun_HappyPath(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		if err := e.Approve(runID, true, "looks good"); err != nil {
			t.Errorf("approve: %v", err)
		}
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	if run.Plan == "" {
		t.Fatal("plan not persisted")
	}
	if run.StartedAt.IsZero() || run.CompletedAt.IsZero() {
		t.Fatal("timestamps not stamped")
	}
	assertSubsequence(t, events,
		event.TaskStarted, event.AnalysisStart, event.PlanReady, event.ApprovalRequired,
		event.Approved, event.Progress, event.ValidationPassed, event.Completion, event.TaskCompleted,
	)

	arts, err := st.Artifacts(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, a := range arts {
		names[a.Name] = true
	}
	for _, want := range []string{"plan.md", "manifest.txt", "tests.txt", "review.txt"} {
		if !names[want] {
			t.Fatalf("missing artifact %s in %v", want, names)
		}
	}

	got, err := st.LoadTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalRuns != 1 || got.SuccessfulRuns != 1 {
		t.Fatalf("task counters = %+v", got)
	}

	// Phase timers file under the task so Metrics(taskID) can serve them.
	mets, err := st.Metrics(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	phases := map[string]bool{}
	for _, m := range mets {
		if m.Name == "phase_duration_ms" && m.RunID == run.ID {
			phases[m.Labels["phase"]] = true
		}
	}
	for _, want := range []string{"code", "test", "review"} {
		if !phases[want] {
			t.Fatalf("missing phase_duration_ms metric for %q, got %v", want, phases)
		}
	}
}

func TestRun_GuardrailFailureThenRecovery(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Script("analyze", analyzeReply)
	client.Script("plan", planReply)
	client.Script("code", invalidFastAPIManifest, validFastAPIManifest)
	client.Script("test", validFastAPITests)
	client.Script("review", `{"decision": "approved"}`)
	e, st, bus := newTestExecutor(t, client, nil)
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	if run.RevisionRounds != 1 {
		t.Fatalf("revision rounds = %d", run.RevisionRounds)
	}
	assertSubsequence(t, events, event.ValidationFailed, event.ValidationPassed, event.Completion)
}

func TestRun_RevisionExhaustedFails(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Script("analyze", analyzeReply)
	client.Script("plan", planReply)
	client.Script("code", invalidFastAPIManifest)
	e, st, bus := newTestExecutor(t, client, nil)
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Kind != KindRevisionExhausted {
		t.Fatalf("error = %+v", run.Error)
	}
	assertSubsequence(t, events, event.ValidationFailed, event.Failure, event.TaskFailed)
}

func TestRun_ApprovalTimeout(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	fired := make(chan time.Time)
	close(fired)
	e.approvalTimer = func() <-chan time.Time { return fired }
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, nil)

	if run.Status != store.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Kind != KindApprovalTimeout {
		t.Fatalf("error = %+v", run.Error)
	}
	assertSubsequence(t, events, event.ApprovalRequired, event.Failure, event.TaskFailed)
}

func TestAwaitDecision_TieResolvesToTimeout(t *testing.T) {
	e, _, _ := newTestExecutor(t, scriptedHappyClient(), nil)
	fired := make(chan time.Time)
	close(fired)
	e.approvalTimer = func() <-chan time.Time { return fired }

	h := &runHandle{runID: "r", decision: make(chan Decision, 1), cancelCh: make(chan struct{})}
	h.decision <- Decision{Approved: true}

	_, derr := e.awaitDecision(context.Background(), h)
	if derr == nil || derr.Kind != KindApprovalTimeout {
		t.Fatalf("err = %+v, want approval_timeout", derr)
	}
}

func TestRun_PlanRejected(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, false, "wrong direction")
	})

	if run.Status != store.StatusCancelled {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Detail["feedback"] != "wrong direction" {
		t.Fatalf("error = %+v", run.Error)
	}
	assertSubsequence(t, events, event.Rejected, event.TaskCancelled)
}

func TestRun_CancelDuringApprovalGate(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	never := make(chan time.Time)
	e.approvalTimer = func() <-chan time.Time { return never }
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		if err := e.Cancel(runID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	})

	if run.Status != store.StatusCancelled {
		t.Fatalf("status = %s", run.Status)
	}
	assertSubsequence(t, events, event.Cancelled, event.TaskCancelled)
}

func TestRun_TimeoutBudget(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	e.runTimeout = 50 * time.Millisecond
	never := make(chan time.Time)
	e.approvalTimer = func() <-chan time.Time { return never }
	task := createTask(t, st, nil)

	run, events := drive(t, e, bus, task.ID, nil)

	if run.Status != store.StatusTimeout {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Kind != KindRunTimeout {
		t.Fatalf("error = %+v", run.Error)
	}
	assertSubsequence(t, events, event.Timeout, event.TaskFailed)
}

const existingMainPy = `from fastapi import FastAPI

app = FastAPI()


@app.get("/hello")
def hello():
    return {"message": "Hello, World!"}
`

const existingUtilPy = `def add(a, b):
    return a + b
`

// Two-file diff: extends main.py and appends a helper to util.py.
const patchModeDiff = `--- a/main.py
+++ b/main.py
@@ -1,3 +1,4 @@
 from fastapi import FastAPI
+from util import add

 app = FastAPI()
--- a/util.py
+++ b/util.py
@@ -1,2 +1,6 @@
 def add(a, b):
     return a + b
+
+
+def mul(a, b):
+    return a * b
`

func scriptedPatchClient() *llm.ScriptedClient {
	c := llm.NewScriptedClient()
	c.Script("analyze", analyzeReply)
	c.Script("plan", planReply)
	c.Script("code", patchModeDiff)
	c.Script("test", validFastAPITests)
	c.Script("review", `{"decision": "approved"}`)
	return c
}

func writeProjectFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRun_PatchModeAppliesDiff(t *testing.T) {
	project := t.TempDir()
	writeProjectFiles(t, project, map[string]string{
		"main.py": existingMainPy,
		"util.py": existingUtilPy,
	})

	e, st, bus := newTestExecutor(t, scriptedPatchClient(), nil)
	task := createTask(t, st, func(task *store.Task) {
		task.OutputMode = store.OutputPatchExisting
		task.ExistingProjectPath = project
	})

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	main, err := os.ReadFile(filepath.Join(project, "main.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(main), "from util import add") {
		t.Fatalf("main.py hunk not applied:\n%s", main)
	}
	util, err := os.ReadFile(filepath.Join(project, "util.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(util), "def mul(a, b):") {
		t.Fatalf("util.py hunk not applied:\n%s", util)
	}
	// New test files from the tester land as whole-file writes.
	if _, err := os.Stat(filepath.Join(project, "test_main.py")); err != nil {
		t.Fatal("test_main.py not written into the project")
	}

	arts, err := st.Artifacts(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range arts {
		if a.Name == "changes.diff" && a.Type == store.ArtifactDiff {
			found = true
		}
	}
	if !found {
		t.Fatal("changes.diff artifact not recorded")
	}
	assertSubsequence(t, events, event.Approved, event.ValidationPassed, event.Completion, event.TaskCompleted)
}

func TestRun_PatchModeRollbackOnContextMismatch(t *testing.T) {
	project := t.TempDir()
	// util.py on disk does not match the diff's context anywhere near the
	// declared lines, so the second file fails after the first applied.
	writeProjectFiles(t, project, map[string]string{
		"main.py": existingMainPy,
		"util.py": "def subtract(a, b):\n    return a - b\n",
	})

	e, st, bus := newTestExecutor(t, scriptedPatchClient(), nil)
	task := createTask(t, st, func(task *store.Task) {
		task.OutputMode = store.OutputPatchExisting
		task.ExistingProjectPath = project
	})

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Kind != KindPatch {
		t.Fatalf("error = %+v", run.Error)
	}
	if run.Error.Detail["failure"] != string(patch.FailContextMismatch) {
		t.Fatalf("failure = %v, want context_mismatch", run.Error.Detail["failure"])
	}
	main, err := os.ReadFile(filepath.Join(project, "main.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(main) != existingMainPy {
		t.Fatalf("main.py not rolled back:\n%s", main)
	}
	if _, err := os.Stat(filepath.Join(project, "util.py.mgx_failed_diff.txt")); err != nil {
		t.Fatal("failed-diff sidecar missing for util.py")
	}
	assertSubsequence(t, events, event.PatchApplyFailed, event.Failure, event.TaskFailed)
}

func TestNew_GitFactoryConfiguresPRClient(t *testing.T) {
	e, _, _ := newTestExecutor(t, scriptedHappyClient(), nil)
	h, ok := e.GitFactory(t.TempDir()).(*githooks.Hooks)
	if !ok {
		t.Fatalf("GitFactory returned %T, want *githooks.Hooks", e.GitFactory(t.TempDir()))
	}
	if h.PR == nil {
		t.Fatal("default git runner has no PR client; repo-linked runs could never open a pull request")
	}
}

type fakeGit struct {
	mu        sync.Mutex
	branchErr error
	commitErr error
	pushErr   error
	prErr     error
	prURL     string
	nothing   bool

	pushCalls int
	prCalls   int
	prDesc    string
	cleaned   bool
}

func (g *fakeGit) CreateRunBranch(title string, runNumber int) (string, error) {
	if g.branchErr != nil {
		return "", g.branchErr
	}
	return "mgx/hello-api/run-1", nil
}

func (g *fakeGit) CommitRun(taskName string, runNumber int) (string, bool, error) {
	if g.commitErr != nil {
		return "", false, g.commitErr
	}
	return "abc1234", g.nothing, nil
}

func (g *fakeGit) PushRunBranch(ctx context.Context, branch string) error {
	g.mu.Lock()
	g.pushCalls++
	g.mu.Unlock()
	return g.pushErr
}

func (g *fakeGit) OpenRunPR(ctx context.Context, branch, taskName, description string, runNumber int, commitSHA string) (string, error) {
	g.mu.Lock()
	g.prCalls++
	g.prDesc = description
	g.mu.Unlock()
	if g.prErr != nil {
		return "", g.prErr
	}
	return g.prURL, nil
}

func (g *fakeGit) Cleanup(branch, fallbackBranch string) {
	g.mu.Lock()
	g.cleaned = true
	g.mu.Unlock()
}

func gitTask(t *testing.T, st *store.MemoryStore) *store.Task {
	return createTask(t, st, func(task *store.Task) {
		task.Repo = &store.RepoRef{FullName: "acme/hello", Branch: "main", LocalPath: t.TempDir()}
	})
}

func TestRun_GitFullPipeline(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	git := &fakeGit{prURL: "https://example.com/pr/7"}
	e.GitFactory = func(dir string) GitRunner { return git }
	task := gitTask(t, st)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	if run.GitStatus != store.GitPROpened || run.PRURL != "https://example.com/pr/7" {
		t.Fatalf("git state = %s, pr = %q", run.GitStatus, run.PRURL)
	}
	if run.CommitSHA != "abc1234" || run.BranchName == "" {
		t.Fatalf("run = %+v", run)
	}
	if git.prDesc != task.Description {
		t.Fatalf("PR body = %q, want the task description", git.prDesc)
	}
	if !git.cleaned {
		t.Fatal("local branch not cleaned up")
	}
	assertSubsequence(t, events,
		event.GitBranchCreated, event.GitCommitCreated, event.GitPushSuccess,
		event.PullRequestOpened, event.Completion,
	)

	// Generated files landed in the repo working tree.
	if _, err := os.Stat(filepath.Join(task.Repo.LocalPath, "main.py")); err != nil {
		t.Fatal("main.py not written into repo")
	}
}

func TestRun_PushFailureCompletesWithoutPR(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	git := &fakeGit{pushErr: errors.New("remote hung up")}
	e.GitFactory = func(dir string) GitRunner { return git }
	task := gitTask(t, st)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	if run.GitStatus != store.GitCommitted {
		t.Fatalf("git status = %s, want committed", run.GitStatus)
	}
	if run.PRURL != "" || git.prCalls != 0 {
		t.Fatal("PR attempted after failed push")
	}
	assertSubsequence(t, events, event.GitCommitCreated, event.GitPushFailed, event.Completion, event.TaskCompleted)
}

func TestRun_BranchFailurePolicyWarnCompletes(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	git := &fakeGit{branchErr: errors.New("branch exists")}
	e.GitFactory = func(dir string) GitRunner { return git }
	task := gitTask(t, st)

	run, events := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if run.GitStatus != store.GitFailed {
		t.Fatalf("git status = %s", run.GitStatus)
	}
	assertSubsequence(t, events, event.GitOperationFailed, event.Completion)
}

func TestRun_BranchFailurePolicyFailFails(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), func(c *config.Config) {
		c.GitFailurePolicy = config.GitPolicyFail
	})
	git := &fakeGit{branchErr: errors.New("branch exists")}
	e.GitFactory = func(dir string) GitRunner { return git }
	task := gitTask(t, st)

	run, _ := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == nil || run.Error.Kind != KindGit {
		t.Fatalf("error = %+v", run.Error)
	}
}

func TestRun_NothingToCommitCompletesEarly(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), nil)
	git := &fakeGit{nothing: true}
	e.GitFactory = func(dir string) GitRunner { return git }
	task := gitTask(t, st)

	run, _ := drive(t, e, bus, task.ID, func(runID string) {
		_ = e.Approve(runID, true, "")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if git.pushCalls != 0 {
		t.Fatal("push attempted with nothing to commit")
	}
}

func TestRun_NeedsHumanDecisionReentersGate(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Script("analyze", analyzeReply)
	client.Script("plan", planReply)
	client.Script("code", validFastAPIManifest)
	client.Script("test", validFastAPITests)
	client.Script("review", `{"decision": "needs_human_decision", "notes": "confirm the endpoint name"}`)
	e, st, bus := newTestExecutor(t, client, nil)
	task := createTask(t, st, nil)

	gates := 0
	run, events := drive(t, e, bus, task.ID, func(runID string) {
		gates++
		_ = e.Approve(runID, true, "endpoint name is fine")
	})

	if run.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", run.Status, run.Error)
	}
	if gates != 2 {
		t.Fatalf("approval gates seen = %d, want 2", gates)
	}
	count := 0
	for _, ev := range events {
		if ev.EventType == event.ApprovalRequired {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("approval_required events = %d", count)
	}
}

func TestStartRun_CapacityOverflowIsRetryable(t *testing.T) {
	e, st, bus := newTestExecutor(t, scriptedHappyClient(), func(c *config.Config) {
		c.ConcurrencyCap = 1
	})
	never := make(chan time.Time)
	e.approvalTimer = func() <-chan time.Time { return never }
	task := createTask(t, st, nil)

	sub := bus.Subscribe(broadcast.TaskChannel(task.ID))
	defer sub.Unsubscribe()
	first, err := e.StartRun(task.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the first run to reach its gate so it is holding the slot.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			t.Fatal("stream ended before gate")
		}
		if ev.EventType == event.ApprovalRequired {
			break
		}
	}

	_, err = e.StartRun(task.ID)
	var xerr *Error
	if !errors.As(err, &xerr) || xerr.Kind != KindCapacity || !xerr.Retryable {
		t.Fatalf("err = %v, want retryable capacity error", err)
	}

	if err := e.Cancel(first.ID); err != nil {
		t.Fatal(err)
	}
	e.Wait()
}

func TestApprove_InvalidStates(t *testing.T) {
	e, st, _ := newTestExecutor(t, scriptedHappyClient(), nil)
	task := createTask(t, st, nil)

	if err := e.Approve("no-such-run", true, ""); err == nil {
		t.Fatal("approve of unknown run accepted")
	}

	run, err := e.Store.(*store.MemoryStore).CreateRun(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(run.ID); err == nil {
		t.Fatal("cancel of non-live run accepted")
	}
}

// Package executor owns the run lifecycle: admission, the state machine,
// the approval gate, team orchestration, patching and git phases. One
// goroutine per run; the store and broadcaster are the only shared state.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/cache"
	"github.com/mgx-dev/mgx/internal/config"
	"github.com/mgx-dev/mgx/internal/event"
	"github.com/mgx-dev/mgx/internal/githooks"
	"github.com/mgx-dev/mgx/internal/llm"
	"github.com/mgx-dev/mgx/internal/metrics"
	"github.com/mgx-dev/mgx/internal/store"
)

// GitRunner is the slice of githooks the run loop drives. Tests substitute
// a fake; production uses *githooks.Hooks.
type GitRunner interface {
	CreateRunBranch(title string, runNumber int) (string, error)
	CommitRun(taskName string, runNumber int) (sha string, nothingToCommit bool, err error)
	PushRunBranch(ctx context.Context, branch string) error
	OpenRunPR(ctx context.Context, branch, taskName, description string, runNumber int, commitSHA string) (string, error)
	Cleanup(branch, fallbackBranch string)
}

// Decision is the approval-gate input.
type Decision struct {
	Approved bool
	Feedback string
}

type runHandle struct {
	runID      string
	decision   chan Decision
	cancelCh   chan struct{}
	cancelOnce sync.Once
	gateOpen   atomic.Bool
}

func (h *runHandle) cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Executor admits runs against a counting semaphore and drives each one on
// its own goroutine. Construct with New; the zero value is not usable.
type Executor struct {
	Store    store.Repository
	Bus      *broadcast.Broadcaster
	Cache    cache.Cache
	Client   llm.Client
	Cfg      config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Set
	LogsRoot string

	// GitFactory builds the git runner for a repo working tree. Overridable
	// for tests; defaults to githooks configured from Cfg.
	GitFactory func(dir string) GitRunner

	admit chan struct{}

	mu   sync.Mutex
	live map[string]*runHandle
	wg   sync.WaitGroup

	runTimeout    time.Duration
	approvalTimer func() <-chan time.Time
}

func New(repo store.Repository, bus *broadcast.Broadcaster, c cache.Cache, client llm.Client, cfg config.Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil || !cfg.EnableCaching {
		c = cache.NewNull()
	}
	e := &Executor{
		Store:      repo,
		Bus:        bus,
		Cache:      c,
		Client:     client,
		Cfg:        cfg,
		Logger:     logger,
		admit:      make(chan struct{}, cfg.ConcurrencyCap),
		live:       map[string]*runHandle{},
		runTimeout: cfg.RunTimeout(),
	}
	e.approvalTimer = func() <-chan time.Time { return time.After(cfg.ApprovalTimeout()) }
	e.GitFactory = func(dir string) GitRunner {
		h := githooks.New(dir)
		h.BranchPrefix = cfg.RunBranchPrefix
		h.CommitTemplate = cfg.CommitTemplate
		h.PushAttempts = cfg.PushMaxAttempts
		h.PushBackoff = cfg.PushBackoffBase()
		h.PR = githooks.GHClient{}
		h.Logger = logger
		return h
	}
	return e
}

// StartRun admits one run for the task and returns immediately; the run
// proceeds on its own goroutine. Admission is FIFO by arrival; when the
// concurrency cap is saturated the caller gets a retryable capacity error
// instead of queueing.
func (e *Executor) StartRun(taskID string) (*store.TaskRun, error) {
	task, err := e.Store.LoadTask(taskID)
	if err != nil {
		return nil, errf(KindInvalidInput, "load task: %v", err)
	}

	select {
	case e.admit <- struct{}{}:
	default:
		return nil, &Error{Kind: KindCapacity, Message: "concurrency cap reached", Retryable: true}
	}

	run, err := e.Store.CreateRun(taskID)
	if err != nil {
		<-e.admit
		return nil, errf(KindInternal, "create run: %v", err)
	}

	h := &runHandle{runID: run.ID, decision: make(chan Decision, 1), cancelCh: make(chan struct{})}
	e.mu.Lock()
	e.live[run.ID] = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.live, run.ID)
			e.mu.Unlock()
			<-e.admit
		}()
		e.runLoop(task, run, h)
	}()
	return run, nil
}

// Approve resolves the open approval gate for a run. Runs not waiting on a
// decision reject with invalid_state.
func (e *Executor) Approve(runID string, approved bool, feedback string) error {
	e.mu.Lock()
	h := e.live[runID]
	e.mu.Unlock()
	if h == nil || !h.gateOpen.Load() {
		return errf(KindInvalidState, "run %s is not awaiting a decision", runID)
	}
	select {
	case h.decision <- Decision{Approved: approved, Feedback: feedback}:
		return nil
	default:
		return errf(KindInvalidState, "run %s already has a decision", runID)
	}
}

// Cancel requests cancellation; the run observes it at its next safe point.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	h := e.live[runID]
	e.mu.Unlock()
	if h != nil {
		h.cancel()
		return nil
	}
	run, err := e.Store.LoadRun(runID)
	if err != nil {
		return errf(KindInvalidInput, "load run: %v", err)
	}
	if run.Status.Terminal() {
		return errf(KindInvalidState, "run %s is already %s", runID, run.Status)
	}
	return errf(KindInvalidState, "run %s is not live", runID)
}

// Wait blocks until every live run has finished. Used by shutdown and tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// awaitDecision blocks on the approval gate. The timer is checked first so
// that a decision and a timeout arriving together resolve to timeout.
func (e *Executor) awaitDecision(ctx context.Context, h *runHandle) (Decision, *Error) {
	timer := e.approvalTimer()
	h.gateOpen.Store(true)
	defer h.gateOpen.Store(false)

	select {
	case <-timer:
		return Decision{}, errf(KindApprovalTimeout, "no decision before deadline")
	default:
	}
	select {
	case <-timer:
		return Decision{}, errf(KindApprovalTimeout, "no decision before deadline")
	case d := <-h.decision:
		return d, nil
	case <-h.cancelCh:
		return Decision{}, errf(KindCancelled, "cancelled while awaiting decision")
	case <-ctx.Done():
		return Decision{}, errf(KindRunTimeout, "run budget expired while awaiting decision")
	}
}

// checkpoint is the cooperative cancellation/timeout check used between
// phases and before any git-mutating step.
func (e *Executor) checkpoint(ctx context.Context, h *runHandle) *Error {
	select {
	case <-h.cancelCh:
		return errf(KindCancelled, "cancel requested")
	default:
	}
	select {
	case <-ctx.Done():
		return errf(KindRunTimeout, "run budget expired")
	default:
	}
	return nil
}

// emit publishes one envelope to the run and task channels. Callers persist
// state first; the broadcaster never shows a state the store does not.
func (e *Executor) emit(task *store.Task, runID string, t event.Type, data map[string]any) {
	ev := event.New(t, task.ID, runID, data)
	ev.WorkspaceID = task.WorkspaceID
	e.Bus.PublishTo(ev, broadcast.RunChannel(runID), broadcast.TaskChannel(task.ID))
}

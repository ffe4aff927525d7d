package executor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mgx-dev/mgx/internal/event"
	"github.com/mgx-dev/mgx/internal/guardrail"
	"github.com/mgx-dev/mgx/internal/manifest"
	"github.com/mgx-dev/mgx/internal/patch"
	"github.com/mgx-dev/mgx/internal/store"
	"github.com/mgx-dev/mgx/internal/team"
)

// Progress step numbering, stable across runs so late subscribers can render
// a bar from any single event.
var phaseStep = map[store.Status]int{
	store.StatusAnalyzing:        1,
	store.StatusAwaitingApproval: 2,
	store.StatusApproved:         3,
	store.StatusExecuting:        4,
	store.StatusValidating:       5,
	store.StatusPatching:         6,
	store.StatusCommitting:       7,
	store.StatusPushing:          8,
	store.StatusPROpened:         9,
	store.StatusCompleted:        10,
}

const totalSteps = 10

func (e *Executor) runLoop(task *store.Task, run *store.TaskRun, h *runHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
	defer cancel()

	e.Metrics.RunStarted()
	outcome := e.execute(ctx, task, run, h)
	if err := e.Store.BumpTaskCounters(task.ID, outcome); err != nil {
		e.Logger.Error("bump task counters", "task", task.ID, "err", err)
	}
	final, err := e.Store.LoadRun(run.ID)
	if err == nil {
		e.Metrics.RunFinished(string(final.Status))
	}
}

// transition persists the status change, then publishes exactly one event
// for it. Data is enriched so each envelope is self-contained.
func (e *Executor) transition(task *store.Task, runID string, to store.Status, t event.Type, data map[string]any, extra store.RunPatch) *Error {
	extra.Status = &to
	run, err := e.Store.UpdateRun(runID, extra)
	if err != nil {
		return errf(KindInternal, "transition to %s: %v", to, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = string(to)
	data["run_number"] = run.RunNumber
	data["task_title"] = task.Title
	if step, ok := phaseStep[to]; ok && t == event.Progress {
		data["step"] = step
		data["total_steps"] = totalSteps
		data["current_phase"] = string(to)
	}
	e.emit(task, runID, t, data)
	return nil
}

// finish drives the run to a terminal status and emits the transition event
// plus the task lifecycle event.
func (e *Executor) finish(task *store.Task, runID string, to store.Status, t event.Type, runErr *store.RunError, data map[string]any) store.Outcome {
	if data == nil {
		data = map[string]any{}
	}
	if runErr != nil {
		data["error_kind"] = runErr.Kind
		data["error_message"] = runErr.Message
	}
	p := store.RunPatch{Completed: true}
	if runErr != nil {
		p.Error = runErr
	}
	if terr := e.transition(task, runID, to, t, data, p); terr != nil {
		e.Logger.Error("terminal transition failed", "run", runID, "status", to, "err", terr)
	}

	var lifecycle event.Type
	switch to {
	case store.StatusCompleted:
		lifecycle = event.TaskCompleted
	case store.StatusCancelled:
		lifecycle = event.TaskCancelled
	default:
		lifecycle = event.TaskFailed
	}
	e.emit(task, runID, lifecycle, map[string]any{"status": string(to), "task_title": task.Title})

	out := store.Outcome{Success: to == store.StatusCompleted}
	if runErr != nil {
		out.Error = runErr.Kind + ": " + runErr.Message
	}
	return out
}

func (e *Executor) execute(ctx context.Context, task *store.Task, run *store.TaskRun, h *runHandle) store.Outcome {
	runID := run.ID
	if _, err := e.Store.UpdateRun(runID, store.RunPatch{Started: true}); err != nil {
		e.Logger.Error("stamp run start", "run", runID, "err", err)
	}
	e.emit(task, runID, event.TaskStarted, map[string]any{"task_title": task.Title, "run_number": run.RunNumber})

	if terr := e.transition(task, runID, store.StatusAnalyzing, event.AnalysisStart, nil, store.RunPatch{}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil)
	}

	orch := team.New(e.Client, e.Cache, e.Cfg.Model, e.Logger)
	orch.MaxRevisionRounds = e.Cfg.MaxRevisionRounds
	orch.MaxRounds = e.Cfg.MaxRounds
	orch.Log.SetWindow(e.Cfg.MemorySize)
	e.wireHooks(orch, task, runID)

	teamTask := team.Task{
		Title:       task.Title,
		Description: task.Description,
		StackHint:   task.TargetStack,
		Strict:      task.StrictRequirements,
		Patch:       task.OutputMode == store.OutputPatchExisting,
		Constraints: task.Constraints,
	}

	analysisStart := time.Now()
	analysis, err := orch.Analyze(ctx, teamTask)
	if err != nil {
		return e.failFromCtx(ctx, task, runID, h, KindLLM, "analyze: "+err.Error())
	}
	e.Metrics.ObservePhase("analyze", time.Since(analysisStart))
	e.Metrics.AddTokens(analysis.Usage.PromptTokens, analysis.Usage.CompletionTokens)

	if cerr := e.checkpoint(ctx, h); cerr != nil {
		return e.terminalFor(task, runID, cerr)
	}

	planStart := time.Now()
	plan, planUsage, err := orch.Plan(ctx, teamTask, analysis)
	if err != nil {
		return e.failFromCtx(ctx, task, runID, h, KindLLM, "plan: "+err.Error())
	}
	e.Metrics.ObservePhase("plan", time.Since(planStart))
	e.Metrics.AddTokens(planUsage.PromptTokens, planUsage.CompletionTokens)
	if _, err := e.Store.UpdateRun(runID, store.RunPatch{Plan: &plan}); err != nil {
		e.Logger.Error("persist plan", "run", runID, "err", err)
	}
	e.appendArtifact(runID, "plan.md", store.ArtifactPlan, []byte(plan))

	// Approval gate. plan_ready marks the transition; approval_required is
	// the gate prompt carrying everything an approver needs.
	if terr := e.transition(task, runID, store.StatusAwaitingApproval, event.PlanReady,
		map[string]any{"plan": plan, "complexity": analysis.Complexity, "stack": analysis.StackTag}, store.RunPatch{}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil)
	}
	h.gateOpen.Store(true)
	e.emit(task, runID, event.ApprovalRequired, map[string]any{
		"plan": plan, "task_title": task.Title, "timeout_seconds": e.Cfg.ApprovalTimeoutSeconds,
	})

	decision, derr := e.awaitDecision(ctx, h)
	if derr != nil {
		return e.terminalFor(task, runID, derr)
	}
	if !decision.Approved {
		return e.finish(task, runID, store.StatusCancelled, event.Rejected,
			&store.RunError{Kind: KindCancelled, Message: "plan rejected",
				Detail: map[string]any{"feedback": decision.Feedback}}, nil)
	}
	if terr := e.transition(task, runID, store.StatusApproved, event.Approved,
		map[string]any{"feedback": decision.Feedback}, store.RunPatch{}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil)
	}

	res, err := orch.Produce(ctx, teamTask, analysis, plan)
	if err != nil {
		return e.failFromCtx(ctx, task, runID, h, KindLLM, "produce: "+err.Error())
	}
	e.recordProduce(task.ID, runID, res)

	switch res.Outcome {
	case team.OutcomeNeedsInfo, team.OutcomeRoundsExhausted:
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindRevisionExhausted, Message: "guardrails rejected output after exhausting revisions",
				Detail: map[string]any{"errors": res.Validation.Errors, "outcome": res.Outcome}}, nil)
	case team.OutcomeNeedsHuman:
		h.gateOpen.Store(true)
		e.emit(task, runID, event.ApprovalRequired, map[string]any{
			"reason": "needs_human_decision", "notes": res.Verdict.Notes, "task_title": task.Title,
		})
		d, derr := e.awaitDecision(ctx, h)
		if derr != nil {
			return e.terminalFor(task, runID, derr)
		}
		if !d.Approved {
			return e.finish(task, runID, store.StatusCancelled, event.Rejected,
				&store.RunError{Kind: KindCancelled, Message: "reviewer escalation rejected",
					Detail: map[string]any{"feedback": d.Feedback}}, nil)
		}
	}

	if cerr := e.checkpoint(ctx, h); cerr != nil {
		return e.terminalFor(task, runID, cerr)
	}

	entries := append(append([]manifest.Entry{}, res.Manifest...), res.TestManifest...)

	if task.OutputMode == store.OutputPatchExisting {
		if terr := e.transition(task, runID, store.StatusPatching, event.Progress, nil, store.RunPatch{}); terr != nil {
			return e.finish(task, runID, store.StatusFailed, event.Failure,
				&store.RunError{Kind: KindInternal, Message: terr.Message}, nil)
		}
		batch := patch.ApplyBatch(task.ExistingProjectPath, res.Patches, patch.AllOrNothing, patch.DefaultOptions())
		if !batch.Failed && len(res.TestManifest) > 0 {
			// New test files ride alongside the diff as whole-file writes.
			batch = patch.WriteManifest(task.ExistingProjectPath, res.TestManifest, patch.AllOrNothing, patch.DefaultOptions())
		}
		if batch.Failed {
			first, _ := batch.FirstFailure()
			e.emit(task, runID, event.PatchApplyFailed, map[string]any{
				"path": first.Path, "failure": string(first.Failure), "rolled_back": batch.RolledBack,
			})
			return e.finish(task, runID, store.StatusFailed, event.Failure,
				&store.RunError{Kind: KindPatch, Message: "patch batch failed",
					Detail: map[string]any{"path": first.Path, "failure": string(first.Failure)}}, nil)
		}
	}

	if task.Repo != nil && task.Repo.LocalPath != "" {
		if out, done := e.gitPhase(ctx, task, runID, run.RunNumber, entries, h); done {
			return out
		}
	}

	return e.finish(task, runID, store.StatusCompleted, event.Completion, nil, map[string]any{
		"files": len(entries), "revision_rounds": res.RevisionRounds, "verdict": res.Verdict.Decision,
	})
}

// wireHooks mirrors orchestrator phase boundaries onto the state machine.
// The run goroutine is the only caller, so the current-status tracking needs
// no lock.
func (e *Executor) wireHooks(orch *team.Orchestrator, task *store.Task, runID string) {
	cur := store.StatusApproved
	orch.Hooks = team.Hooks{
		OnGenerate: func(phase string) {
			if cur == store.StatusExecuting {
				return
			}
			if terr := e.transition(task, runID, store.StatusExecuting, event.Progress,
				map[string]any{"phase": phase}, store.RunPatch{}); terr != nil {
				e.Logger.Error("executing transition", "run", runID, "err", terr)
				return
			}
			cur = store.StatusExecuting
		},
		OnValidate: func(phase string, res guardrail.ValidationResult, revision int) {
			t := event.ValidationPassed
			if !res.IsValid {
				t = event.ValidationFailed
			}
			rev := revision
			if terr := e.transition(task, runID, store.StatusValidating, t, map[string]any{
				"phase": phase, "errors": res.Errors, "warnings": res.Warnings, "revision_round": revision,
			}, store.RunPatch{RevisionRounds: &rev}); terr != nil {
				e.Logger.Error("validating transition", "run", runID, "err", terr)
				return
			}
			cur = store.StatusValidating
		},
	}
}

// gitPhase runs committing/pushing/pr steps. The bool result reports whether
// the run was finished inside (true) or should fall through to the normal
// completion path (false).
func (e *Executor) gitPhase(ctx context.Context, task *store.Task, runID string, runNumber int, entries []manifest.Entry, h *runHandle) (store.Outcome, bool) {
	if cerr := e.checkpoint(ctx, h); cerr != nil {
		return e.terminalFor(task, runID, cerr), true
	}
	if terr := e.transition(task, runID, store.StatusCommitting, event.Progress, nil, store.RunPatch{}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil), true
	}

	git := e.GitFactory(task.Repo.LocalPath)

	branch, err := git.CreateRunBranch(task.Title, runNumber)
	if err != nil {
		return e.gitFailure(task, runID, "create branch", err), true
	}
	defer git.Cleanup(branch, task.Repo.Branch)
	gs := store.GitBranchCreated
	if _, uerr := e.Store.UpdateRun(runID, store.RunPatch{BranchName: &branch, GitStatus: &gs}); uerr != nil {
		e.Logger.Error("persist branch", "run", runID, "err", uerr)
	}
	e.emit(task, runID, event.GitBranchCreated, map[string]any{"branch": branch})

	if task.OutputMode == store.OutputGenerateNew {
		batch := patch.WriteManifest(task.Repo.LocalPath, entries, patch.BestEffort, patch.Options{})
		if batch.Failed {
			first, _ := batch.FirstFailure()
			e.emit(task, runID, event.PatchApplyFailed, map[string]any{"path": first.Path, "failure": string(first.Failure)})
			return e.finish(task, runID, store.StatusFailed, event.Failure,
				&store.RunError{Kind: KindPatch, Message: "write manifest into repo failed",
					Detail: map[string]any{"path": first.Path}}, nil), true
		}
	}

	sha, nothing, err := git.CommitRun(task.Title, runNumber)
	if err != nil {
		return e.gitFailure(task, runID, "commit", err), true
	}
	gs = store.GitCommitted
	if _, uerr := e.Store.UpdateRun(runID, store.RunPatch{CommitSHA: &sha, GitStatus: &gs}); uerr != nil {
		e.Logger.Error("persist commit", "run", runID, "err", uerr)
	}
	if nothing {
		// Vacuous success: the tree already matched. Complete without push.
		e.emit(task, runID, event.GitCommitCreated, map[string]any{"nothing_to_commit": true})
		return e.finish(task, runID, store.StatusCompleted, event.Completion,
			nil, map[string]any{"git_status": string(gs), "nothing_to_commit": true}), true
	}
	e.emit(task, runID, event.GitCommitCreated, map[string]any{"commit_sha": sha, "branch": branch})

	if terr := e.transition(task, runID, store.StatusPushing, event.Progress, nil, store.RunPatch{}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil), true
	}
	if err := git.PushRunBranch(ctx, branch); err != nil {
		// Push failure after commit is not fatal: the work survives locally.
		e.emit(task, runID, event.GitPushFailed, map[string]any{"branch": branch, "error": err.Error()})
		return e.finish(task, runID, store.StatusCompleted, event.Completion, nil,
			map[string]any{"git_status": string(store.GitCommitted), "push_failed": true}), true
	}
	gs = store.GitPushed
	if _, uerr := e.Store.UpdateRun(runID, store.RunPatch{GitStatus: &gs}); uerr != nil {
		e.Logger.Error("persist push", "run", runID, "err", uerr)
	}
	e.emit(task, runID, event.GitPushSuccess, map[string]any{"branch": branch})

	url, err := git.OpenRunPR(ctx, branch, task.Title, task.Description, runNumber, sha)
	if err != nil {
		e.emit(task, runID, event.GitOperationFailed, map[string]any{"step": "pr", "error": err.Error()})
		return e.finish(task, runID, store.StatusCompleted, event.Completion, nil,
			map[string]any{"git_status": string(store.GitPushed), "pr_failed": true}), true
	}
	gs = store.GitPROpened
	if terr := e.transition(task, runID, store.StatusPROpened, event.PullRequestOpened,
		map[string]any{"pr_url": url, "branch": branch},
		store.RunPatch{PRURL: &url, GitStatus: &gs}); terr != nil {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindInternal, Message: terr.Message}, nil), true
	}
	return store.Outcome{}, false
}

// gitFailure applies git_failure_policy: warn completes the run with
// git_status=failed, fail fails it.
func (e *Executor) gitFailure(task *store.Task, runID, step string, err error) store.Outcome {
	gs := store.GitFailed
	if _, uerr := e.Store.UpdateRun(runID, store.RunPatch{GitStatus: &gs}); uerr != nil {
		e.Logger.Error("persist git failure", "run", runID, "err", uerr)
	}
	e.emit(task, runID, event.GitOperationFailed, map[string]any{"step": step, "error": err.Error()})
	if e.Cfg.GitFailurePolicy == "fail" {
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindGit, Message: step + ": " + err.Error()}, nil)
	}
	e.Logger.Warn("git step failed, completing without git artifacts", "run", runID, "step", step, "err", err)
	return e.finish(task, runID, store.StatusCompleted, event.Completion, nil,
		map[string]any{"git_status": string(gs), "git_step_failed": step})
}

// terminalFor maps a checkpoint/gate error onto the right terminal status.
func (e *Executor) terminalFor(task *store.Task, runID string, xerr *Error) store.Outcome {
	switch xerr.Kind {
	case KindCancelled:
		return e.finish(task, runID, store.StatusCancelled, event.Cancelled,
			&store.RunError{Kind: KindCancelled, Message: xerr.Message}, nil)
	case KindRunTimeout:
		return e.finish(task, runID, store.StatusTimeout, event.Timeout,
			&store.RunError{Kind: KindRunTimeout, Message: xerr.Message}, nil)
	case KindApprovalTimeout:
		return e.finish(task, runID, store.StatusFailed, event.Failure,
			&store.RunError{Kind: KindApprovalTimeout, Message: xerr.Message}, nil)
	}
	return e.finish(task, runID, store.StatusFailed, event.Failure,
		&store.RunError{Kind: xerr.Kind, Message: xerr.Message}, nil)
}

// failFromCtx distinguishes an LLM failure caused by cancellation or the run
// budget from a genuine upstream error.
func (e *Executor) failFromCtx(ctx context.Context, task *store.Task, runID string, h *runHandle, kind, msg string) store.Outcome {
	if cerr := e.checkpoint(ctx, h); cerr != nil {
		return e.terminalFor(task, runID, cerr)
	}
	return e.finish(task, runID, store.StatusFailed, event.Failure,
		&store.RunError{Kind: kind, Message: msg}, nil)
}

func (e *Executor) recordProduce(taskID, runID string, res *team.Result) {
	e.Metrics.AddTokens(res.Usage.PromptTokens, res.Usage.CompletionTokens)
	timings := map[string]any{}
	for phase, d := range res.Timings {
		e.Metrics.ObservePhase(phase, d)
		timings[phase] = d.Milliseconds()
		if err := e.Store.RecordMetric(store.Metric{
			TaskID: taskID, RunID: runID, Name: "phase_duration_ms", Type: store.MetricTimer,
			Value: float64(d.Milliseconds()), Labels: map[string]string{"phase": phase},
		}); err != nil {
			e.Logger.Error("record metric", "run", runID, "err", err)
		}
	}
	results := map[string]any{
		"outcome":         res.Outcome,
		"verdict":         res.Verdict.Decision,
		"revision_rounds": res.RevisionRounds,
		"review_rounds":   res.ReviewRounds,
		"prompt_tokens":   res.Usage.PromptTokens,
		"completion_tokens": res.Usage.CompletionTokens,
		"timings_ms":      timings,
	}
	rev := res.RevisionRounds
	if _, err := e.Store.UpdateRun(runID, store.RunPatch{Results: results, RevisionRounds: &rev}); err != nil {
		e.Logger.Error("persist produce results", "run", runID, "err", err)
	}
	if len(res.Manifest) > 0 {
		e.appendArtifact(runID, "manifest.txt", store.ArtifactCode, []byte(manifest.Serialize(res.Manifest)))
	}
	if res.Diff != "" {
		e.appendArtifact(runID, "changes.diff", store.ArtifactDiff, []byte(res.Diff))
	}
	if len(res.TestManifest) > 0 {
		e.appendArtifact(runID, "tests.txt", store.ArtifactTest, []byte(manifest.Serialize(res.TestManifest)))
	}
	if res.Verdict.Decision != "" {
		e.appendArtifact(runID, "review.txt", store.ArtifactReview, []byte(res.Verdict.Decision+"\n"+res.Verdict.Notes))
	}
}

// appendArtifact stores the artifact and mirrors it under the logs root.
// Disk mirroring is best-effort.
func (e *Executor) appendArtifact(runID, name string, t store.ArtifactType, content []byte) {
	if err := e.Store.AppendArtifact(runID, store.Artifact{Name: name, Type: t, Content: content}); err != nil {
		e.Logger.Error("append artifact", "run", runID, "name", name, "err", err)
	}
	if e.LogsRoot == "" {
		return
	}
	dir := filepath.Join(e.LogsRoot, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, name), content, 0o644)
}

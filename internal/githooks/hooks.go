// Package githooks implements the branch/commit/push/PR steps a run performs
// when it is linked to a repository. Each step has its own success and
// failure semantics; the executor decides what a step failure means for the
// run.
package githooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mgx-dev/mgx/internal/gitutil"
)

// ErrorKind classifies step failures for the run error taxonomy.
type ErrorKind string

const (
	KindBranchExists    ErrorKind = "branch_exists"
	KindPushFailed      ErrorKind = "push_failed"
	KindPRFailed        ErrorKind = "pr_failed"
	KindNothingToCommit ErrorKind = "nothing_to_commit" // non-fatal
	KindGitFailed       ErrorKind = "git_failed"
)

type StepError struct {
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("git %s: %v", e.Kind, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// PRClient opens pull requests. Implementations must treat a duplicate PR as
// success, returning the existing URL when discoverable.
type PRClient interface {
	OpenPR(ctx context.Context, dir, branch, title, body string) (url string, err error)
}

// Hooks drives the git steps for one run. The working tree is owned by the
// run for the duration of its git phases.
type Hooks struct {
	Dir            string
	Remote         string
	BranchPrefix   string
	CommitTemplate string
	PushAttempts   int
	PushBackoff    time.Duration
	PR             PRClient
	Logger         *slog.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func New(dir string) *Hooks {
	return &Hooks{
		Dir:            dir,
		Remote:         "origin",
		BranchPrefix:   "mgx",
		CommitTemplate: "MGX Task: {task_name} - Run #{run_number}",
		PushAttempts:   3,
		PushBackoff:    500 * time.Millisecond,
		Logger:         slog.Default(),
		sleep:          time.Sleep,
	}
}

// Slug lowercases a task title, replaces non-alphanumerics with '-',
// squeezes repeats, and truncates to 50 characters.
func Slug(title string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 50 {
		s = strings.Trim(s[:50], "-")
	}
	if s == "" {
		s = "task"
	}
	return s
}

// BranchName renders {prefix}/{task-slug}/run-{n}.
func (h *Hooks) BranchName(title string, runNumber int) string {
	return fmt.Sprintf("%s/%s/run-%d", h.BranchPrefix, Slug(title), runNumber)
}

// CreateRunBranch creates and checks out the run branch. If the branch
// already exists locally, one retry is made with a "-b2" suffix; a second
// collision fails with branch_exists.
func (h *Hooks) CreateRunBranch(title string, runNumber int) (string, error) {
	branch := h.BranchName(title, runNumber)
	if !gitutil.BranchExists(h.Dir, branch) {
		if err := gitutil.CreateBranch(h.Dir, branch); err != nil {
			return "", &StepError{Kind: KindGitFailed, Err: err}
		}
		return branch, nil
	}
	h.Logger.Warn("run branch already exists, retrying with suffix", "branch", branch)
	retry := branch + "-b2"
	if gitutil.BranchExists(h.Dir, retry) {
		return "", &StepError{Kind: KindBranchExists, Err: fmt.Errorf("branches %q and %q already exist", branch, retry)}
	}
	if err := gitutil.CreateBranch(h.Dir, retry); err != nil {
		return "", &StepError{Kind: KindGitFailed, Err: err}
	}
	return retry, nil
}

// CommitRun stages everything and commits with the rendered template. An
// empty working tree is reported via nothingToCommit and the step succeeds
// vacuously with an empty SHA.
func (h *Hooks) CommitRun(taskName string, runNumber int) (sha string, nothingToCommit bool, err error) {
	clean, cerr := gitutil.IsClean(h.Dir)
	if cerr == nil && clean {
		return "", true, nil
	}
	msg := RenderCommitMessage(h.CommitTemplate, taskName, runNumber)
	sha, err = gitutil.Commit(h.Dir, msg)
	if err != nil {
		if gitutil.IsNothingToCommit(err) {
			return "", true, nil
		}
		return "", false, &StepError{Kind: KindGitFailed, Err: err}
	}
	return sha, false, nil
}

// RenderCommitMessage substitutes the {task_name} and {run_number}
// placeholders. Unknown placeholders pass through verbatim.
func RenderCommitMessage(template, taskName string, runNumber int) string {
	msg := strings.ReplaceAll(template, "{task_name}", taskName)
	return strings.ReplaceAll(msg, "{run_number}", fmt.Sprintf("%d", runNumber))
}

// PushRunBranch pushes with exponential backoff on transient errors, capped
// at PushAttempts. Permanent errors fail immediately.
func (h *Hooks) PushRunBranch(ctx context.Context, branch string) error {
	attempts := h.PushAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &StepError{Kind: KindPushFailed, Err: err}
		}
		err := gitutil.Push(h.Dir, h.Remote, branch)
		if err == nil {
			return nil
		}
		last = err
		if !gitutil.IsTransientPushError(err) {
			break
		}
		if attempt < attempts {
			delay := h.PushBackoff * (1 << (attempt - 1))
			h.Logger.Warn("push failed, backing off", "attempt", attempt, "delay", delay, "err", err)
			h.sleep(delay)
		}
	}
	return &StepError{Kind: KindPushFailed, Err: last}
}

// OpenRunPR opens a draft PR titled "MGX: {task_name} — Run #{n}" whose body
// carries the task description and a link to the commit.
func (h *Hooks) OpenRunPR(ctx context.Context, branch, taskName, description string, runNumber int, commitSHA string) (string, error) {
	if h.PR == nil {
		return "", &StepError{Kind: KindPRFailed, Err: fmt.Errorf("no PR client configured")}
	}
	title := fmt.Sprintf("MGX: %s — Run #%d", taskName, runNumber)
	body := description
	if commitSHA != "" {
		body += "\n\nCommit: " + commitSHA
	}
	url, err := h.PR.OpenPR(ctx, h.Dir, branch, title, body)
	if err != nil {
		return "", &StepError{Kind: KindPRFailed, Err: err}
	}
	return url, nil
}

// Cleanup removes the local run branch after metadata is persisted. It is
// called on every exit path; remote branches are never touched. Deleting the
// currently checked-out branch requires switching away first.
func (h *Hooks) Cleanup(branch, fallbackBranch string) {
	if branch == "" {
		return
	}
	if cur, err := gitutil.CurrentBranch(h.Dir); err == nil && cur == branch && fallbackBranch != "" {
		if err := gitutil.CheckoutBranch(h.Dir, fallbackBranch); err != nil {
			h.Logger.Warn("cleanup: could not switch off run branch", "branch", branch, "err", err)
			return
		}
	}
	if err := gitutil.DeleteBranch(h.Dir, branch); err != nil {
		h.Logger.Warn("cleanup: could not delete run branch", "branch", branch, "err", err)
	}
}

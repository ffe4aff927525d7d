// Package gitutil wraps the git CLI for the run hooks. All operations target
// a working tree owned exclusively by one run.
package gitutil

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	// Auto-maintenance off keeps runs deterministic and avoids stray helper
	// processes during frequent commits.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func CurrentBranch(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func StatusPorcelain(dir string) (string, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return out, nil
}

func IsClean(dir string) (bool, error) {
	out, err := StatusPorcelain(dir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func BranchExists(dir, branch string) bool {
	_, _, err := runGit(dir, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// CreateBranch creates branch at HEAD and checks it out. It refuses to
// clobber an existing branch; callers handle the retry-with-suffix policy.
func CreateBranch(dir, branch string) error {
	_, _, err := runGit(dir, "checkout", "-b", branch)
	return err
}

func CheckoutBranch(dir, branch string) error {
	_, _, err := runGit(dir, "switch", branch)
	return err
}

// DeleteBranch force-deletes a local branch. Remote branches are never
// deleted by this package.
func DeleteBranch(dir, branch string) error {
	_, _, err := runGit(dir, "branch", "-D", branch)
	return err
}

func AddAll(dir string) error {
	_, _, err := runGit(dir, "add", "-A")
	return err
}

// Commit stages everything and commits. If the repository has no committer
// identity configured, it retries once with a fallback identity without
// mutating repo config. Returns the new HEAD SHA.
func Commit(dir, message string) (string, error) {
	if err := AddAll(dir); err != nil {
		return "", err
	}
	_, _, err := runGit(dir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(err.Error(), "Author identity unknown") ||
			strings.Contains(err.Error(), "Please tell me who you are") ||
			strings.Contains(err.Error(), "unable to auto-detect email address") {
			_, _, err = runGit(
				dir,
				"-c", "user.name=mgx-runner",
				"-c", "user.email=mgx-runner@local",
				"commit", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return HeadSHA(dir)
}

func Push(dir, remote, branch string) error {
	_, _, err := runGit(dir, "push", "-u", remote, branch)
	return err
}

// IsNothingToCommit reports whether a commit error means the tree was clean.
func IsNothingToCommit(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stdout, "nothing to commit") ||
		strings.Contains(ce.Stderr, "nothing to commit")
}

// IsTransientPushError classifies push failures worth retrying: network
// flakes, remote hangups and rate limiting. Rejections (non-fast-forward,
// permission) are permanent.
func IsTransientPushError(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	s := ce.Stderr + ce.Stdout
	for _, marker := range []string{
		"Could not resolve host",
		"unable to access",
		"Connection timed out",
		"Connection refused",
		"early EOF",
		"The remote end hung up",
		"rate limit",
		"503",
		"502",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

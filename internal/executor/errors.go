package executor

import "fmt"

// Error kinds surfaced by the executor. These line up with the persisted
// RunError taxonomy; transport adapters map them to status codes.
const (
	KindCapacity          = "capacity"
	KindInvalidState      = "invalid_state"
	KindInvalidInput      = "invalid_input"
	KindApprovalTimeout   = "approval_timeout"
	KindRunTimeout        = "run_timeout"
	KindCancelled         = "cancelled"
	KindRevisionExhausted = "revision_exhausted"
	KindLLM               = "llm_error"
	KindPatch             = "patch_error"
	KindGit               = "git_error"
	KindInternal          = "internal"
)

type Error struct {
	Kind      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor %s: %s", e.Kind, e.Message)
}

func errf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

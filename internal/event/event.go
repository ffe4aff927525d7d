// Package event defines the envelope published on the broadcaster and the
// closed set of event types the executor emits.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Version is the envelope schema tag carried on every event.
const Version = "1.0"

type Type string

// Lifecycle events.
const (
	TaskCreated   Type = "task.created"
	TaskStarted   Type = "task.started"
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"
	TaskCancelled Type = "task.cancelled"
)

// Run phase events.
const (
	AnalysisStart    Type = "analysis_start"
	PlanReady        Type = "plan_ready"
	ApprovalRequired Type = "approval_required"
	Approved         Type = "approved"
	Rejected         Type = "rejected"
	Progress         Type = "progress"
	Completion       Type = "completion"
	Failure          Type = "failure"
	Cancelled        Type = "cancelled"
	Timeout          Type = "timeout"
)

// Git events.
const (
	GitBranchCreated   Type = "git_branch_created"
	GitCommitCreated   Type = "git_commit_created"
	GitPushSuccess     Type = "git_push_success"
	GitPushFailed      Type = "git_push_failed"
	PullRequestOpened  Type = "pull_request_opened"
	GitOperationFailed Type = "git_operation_failed"
)

// Guardrail events.
const (
	ValidationFailed Type = "validation_failed"
	ValidationPassed Type = "validation_passed"
	PatchApplyFailed Type = "patch_apply_failed"
)

// Agent/tooling events (optional surface).
const (
	AgentMessage  Type = "agent.message"
	AgentThinking Type = "agent.thinking"
	AgentAction   Type = "agent.action"
	ToolCall      Type = "tool.call"
	ToolResult    Type = "tool.result"
)

var known = map[Type]bool{
	TaskCreated: true, TaskStarted: true, TaskCompleted: true, TaskFailed: true, TaskCancelled: true,
	AnalysisStart: true, PlanReady: true, ApprovalRequired: true, Approved: true, Rejected: true,
	Progress: true, Completion: true, Failure: true, Cancelled: true, Timeout: true,
	GitBranchCreated: true, GitCommitCreated: true, GitPushSuccess: true, GitPushFailed: true,
	PullRequestOpened: true, GitOperationFailed: true,
	ValidationFailed: true, ValidationPassed: true, PatchApplyFailed: true,
	AgentMessage: true, AgentThinking: true, AgentAction: true, ToolCall: true, ToolResult: true,
}

func (t Type) Known() bool { return known[t] }

// Envelope is the on-the-wire event record. Timestamps are UTC; the JSON
// encoding of time.Time yields RFC 3339.
type Envelope struct {
	EventID     string         `json:"event_id"`
	EventType   Type           `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Data        map[string]any `json:"data"`
	Version     string         `json:"version"`
}

// New builds a self-contained envelope. Data may be nil; it is normalized to
// an empty map so subscribers never see a null payload.
func New(t Type, taskID, runID string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: t,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		RunID:     runID,
		Data:      data,
		Version:   Version,
	}
}

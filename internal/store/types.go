// Package store holds the persistent entities and the narrow repository
// interface the executor consumes. Children reference parents by id; the
// repository is the only component that resolves ids to values.
package store

import "time"

// Status is the TaskRun lifecycle state. The legal transition graph lives in
// transitions.go; UpdateRun rejects anything off-graph.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAnalyzing        Status = "analyzing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusExecuting        Status = "executing"
	StatusValidating       Status = "validating"
	StatusPatching         Status = "patching"
	StatusCommitting       Status = "committing"
	StatusPushing          Status = "pushing"
	StatusPROpened         Status = "pr_opened"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusTimeout          Status = "timeout"
)

// Terminal statuses are absorbing.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

type GitStatus string

const (
	GitPending       GitStatus = "pending"
	GitBranchCreated GitStatus = "branch_created"
	GitCommitted     GitStatus = "committed"
	GitPushed        GitStatus = "pushed"
	GitPROpened      GitStatus = "pr_opened"
	GitFailed        GitStatus = "failed"
)

type OutputMode string

const (
	OutputGenerateNew   OutputMode = "generate_new"
	OutputPatchExisting OutputMode = "patch_existing"
)

type ProjectType string

const (
	ProjectAPI       ProjectType = "api"
	ProjectWebapp    ProjectType = "webapp"
	ProjectFullstack ProjectType = "fullstack"
	ProjectDevops    ProjectType = "devops"
)

// RepoRef links a task to a git repository.
type RepoRef struct {
	FullName   string `json:"full_name"`
	Branch     string `json:"branch"`
	AuthHandle string `json:"auth_handle,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// Task is the long-lived work definition. Counters are updated only by the
// executor via BumpTaskCounters.
type Task struct {
	ID                  string
	Title               string
	Description         string
	TargetStack         string
	ProjectType         ProjectType
	OutputMode          OutputMode
	StrictRequirements  bool
	Constraints         []string
	ExistingProjectPath string
	Repo                *RepoRef
	RunBranchPrefix     string
	CommitTemplate      string
	WorkspaceID         string

	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastRunAt      time.Time
	LastError      string

	CreatedAt time.Time
}

// RunError is the taxonomy-kinded error carried by a failed run.
type RunError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// TaskRun is one execution attempt, exclusively owned by the executor while
// it is live.
type TaskRun struct {
	ID        string
	TaskID    string
	RunNumber int
	Status    Status

	Plan           string
	Results        map[string]any
	Error          *RunError
	RevisionRounds int

	BranchName string
	CommitSHA  string
	PRURL      string
	GitStatus  GitStatus

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	CreatedAt time.Time
}

type MetricType string

const (
	MetricCounter MetricType = "counter"
	MetricGauge   MetricType = "gauge"
	MetricTimer   MetricType = "timer"
)

type Metric struct {
	TaskID    string
	RunID     string
	Name      string
	Type      MetricType
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

type ArtifactType string

const (
	ArtifactCode   ArtifactType = "code"
	ArtifactTest   ArtifactType = "test"
	ArtifactReview ArtifactType = "review"
	ArtifactDiff   ArtifactType = "diff"
	ArtifactBackup ArtifactType = "backup"
	ArtifactPlan   ArtifactType = "plan"
)

type Artifact struct {
	RunID     string
	Name      string
	Type      ArtifactType
	Content   []byte
	CreatedAt time.Time
}

// Outcome summarizes a finished run for task counter bumping.
type Outcome struct {
	Success bool
	Error   string
}

package server

import (
	"fmt"
	"time"

	"github.com/mgx-dev/mgx/internal/store"
)

// CreateTaskRequest mirrors the core input contract for task creation.
type CreateTaskRequest struct {
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	TargetStack         string         `json:"target_stack,omitempty"`
	ProjectType         string         `json:"project_type"`
	OutputMode          string         `json:"output_mode"`
	StrictRequirements  bool           `json:"strict_requirements"`
	Constraints         []string       `json:"constraints,omitempty"`
	ExistingProjectPath string         `json:"existing_project_path,omitempty"`
	Repo                *store.RepoRef `json:"repo,omitempty"`
	// Start launches a run immediately after creation.
	Start bool `json:"start,omitempty"`
}

func (r CreateTaskRequest) Validate() error {
	if n := len(r.Title); n < 1 || n > 255 {
		return fmt.Errorf("title must be 1-255 chars, got %d", n)
	}
	if len(r.Description) > 5000 {
		return fmt.Errorf("description must be at most 5000 chars, got %d", len(r.Description))
	}
	switch store.ProjectType(r.ProjectType) {
	case store.ProjectAPI, store.ProjectWebapp, store.ProjectFullstack, store.ProjectDevops:
	default:
		return fmt.Errorf("project_type must be one of api, webapp, fullstack, devops; got %q", r.ProjectType)
	}
	switch store.OutputMode(r.OutputMode) {
	case store.OutputGenerateNew:
	case store.OutputPatchExisting:
		if r.ExistingProjectPath == "" {
			return fmt.Errorf("existing_project_path is required for output_mode patch_existing")
		}
	default:
		return fmt.Errorf("output_mode must be generate_new or patch_existing; got %q", r.OutputMode)
	}
	return nil
}

type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

type TaskResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	TotalRuns      int    `json:"total_runs"`
	SuccessfulRuns int    `json:"successful_runs"`
	FailedRuns     int    `json:"failed_runs"`
	CreatedAt      string `json:"created_at"`
	RunID          string `json:"run_id,omitempty"` // set when Start was requested
}

type RunResponse struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	RunNumber      int             `json:"run_number"`
	Status         string          `json:"status"`
	Plan           string          `json:"plan,omitempty"`
	Results        map[string]any  `json:"results,omitempty"`
	Error          *store.RunError `json:"error,omitempty"`
	RevisionRounds int             `json:"revision_rounds"`
	BranchName     string          `json:"branch_name,omitempty"`
	CommitSHA      string          `json:"commit_sha,omitempty"`
	PRURL          string          `json:"pr_url,omitempty"`
	GitStatus      string          `json:"git_status"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	DurationMS     int64           `json:"duration_ms,omitempty"`
}

func runResponse(run *store.TaskRun) RunResponse {
	resp := RunResponse{
		ID:             run.ID,
		TaskID:         run.TaskID,
		RunNumber:      run.RunNumber,
		Status:         string(run.Status),
		Plan:           run.Plan,
		Results:        run.Results,
		Error:          run.Error,
		RevisionRounds: run.RevisionRounds,
		BranchName:     run.BranchName,
		CommitSHA:      run.CommitSHA,
		PRURL:          run.PRURL,
		GitStatus:      string(run.GitStatus),
		DurationMS:     run.Duration.Milliseconds(),
	}
	if !run.StartedAt.IsZero() {
		resp.StartedAt = run.StartedAt.UTC().Format(time.RFC3339)
	}
	if !run.CompletedAt.IsZero() {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

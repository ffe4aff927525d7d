package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/event"
	"github.com/mgx-dev/mgx/internal/executor"
	"github.com/mgx-dev/mgx/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task := &store.Task{
		Title:               req.Title,
		Description:         req.Description,
		TargetStack:         req.TargetStack,
		ProjectType:         store.ProjectType(req.ProjectType),
		OutputMode:          store.OutputMode(req.OutputMode),
		StrictRequirements:  req.StrictRequirements,
		Constraints:         req.Constraints,
		ExistingProjectPath: req.ExistingProjectPath,
		Repo:                req.Repo,
	}
	if err := s.store.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create task: %v", err))
		return
	}
	s.bus.Publish(broadcast.TaskChannel(task.ID),
		event.New(event.TaskCreated, task.ID, "", map[string]any{"task_title": task.Title}))

	resp := TaskResponse{
		ID:        task.ID,
		Title:     task.Title,
		CreatedAt: task.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if req.Start {
		run, err := s.exec.StartRun(task.ID)
		if err != nil {
			writeExecError(w, err)
			return
		}
		resp.RunID = run.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.LoadTask(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{
		ID:             task.ID,
		Title:          task.Title,
		TotalRuns:      task.TotalRuns,
		SuccessfulRuns: task.SuccessfulRuns,
		FailedRuns:     task.FailedRuns,
		CreatedAt:      task.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.exec.StartRun(r.PathValue("id"))
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LoadRun(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.exec.Approve(r.PathValue("id"), req.Approved, req.Feedback); err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "approved": req.Approved})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.Cancel(r.PathValue("id")); err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelling": true})
}

// handleRunEvents streams the run channel as SSE until the client leaves.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.store.LoadRun(runID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sub := s.bus.Subscribe(broadcast.RunChannel(runID))
	defer sub.Unsubscribe()
	writeSSE(w, r, sub)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeExecError maps executor error kinds onto HTTP statuses.
func writeExecError(w http.ResponseWriter, err error) {
	var xerr *executor.Error
	if !errors.As(err, &xerr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch xerr.Kind {
	case executor.KindCapacity:
		status = http.StatusTooManyRequests
	case executor.KindInvalidState:
		status = http.StatusConflict
	case executor.KindInvalidInput:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{
		"error": xerr.Message, "kind": xerr.Kind, "retryable": xerr.Retryable,
	})
}

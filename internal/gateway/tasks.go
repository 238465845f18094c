package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/scheduler"
)

// createTaskRequest is the body of POST /tasks.
type createTaskRequest struct {
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Schedule       string              `json:"schedule"`
	Timezone       string              `json:"timezone,omitempty"`
	Prompt         string              `json:"prompt"`
	ReplyChannelID string              `json:"reply_channel_id,omitempty"`
	ReplyTarget    string              `json:"reply_target,omitempty"`
	Config         scheduler.TaskConfig `json:"config,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Schedule) == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "schedule and prompt are required")
		return
	}

	now := time.Now()
	nextRun, err := scheduler.NextRun(req.Schedule, req.Timezone, now, slog.Default())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
		return
	}

	config := req.Config
	if config == (scheduler.TaskConfig{}) {
		config = scheduler.DefaultTaskConfig()
	}

	task := &scheduler.ScheduledTask{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		Schedule:       req.Schedule,
		Timezone:       req.Timezone,
		Prompt:         req.Prompt,
		ReplyChannelID: req.ReplyChannelID,
		ReplyTarget:    req.ReplyTarget,
		Config:         config,
		Status:         scheduler.TaskStatusActive,
		NextRunAt:      nextRun,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if nextRun.IsZero() {
		// One-shot schedules still need a due time in the past so the
		// poller picks them up on its next pass.
		task.NextRunAt = now
	}

	if err := s.tasks.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "create task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

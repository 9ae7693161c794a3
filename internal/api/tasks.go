package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/identity"
	"github.com/ashureev/agent-relay/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SubmitRequest is the body of POST /api/sessions/{sessionId}/chat.
type SubmitRequest struct {
	Message string `json:"message"`
	Timeout int    `json:"timeout,omitempty"` // seconds; 0 = server default
}

// TaskResponse describes a task.
type TaskResponse struct {
	TaskID string              `json:"task_id"`
	Status string              `json:"status"`
	Result *domain.AgentResult `json:"result,omitempty"`
}

const statusCleaned = "cleaned"

// SubmitTask starts a turn in the background and answers 202 at once.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	convID, ok := identity.ConversationID(chi.URLParam(r, "sessionId"), tasks.NewConversation)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req SubmitRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Timeout < 0 {
		Error(w, http.StatusBadRequest, "timeout must be positive")
		return
	}

	taskID, err := h.svc.Submit(r.Context(), convID, req.Message, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		h.logger.Error("Failed to submit task",
			"conversation_id", convID,
			"user", identity.UsernameFromContext(r.Context()),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "Failed to submit task: "+err.Error())
		return
	}

	JSON(w, http.StatusAccepted, TaskResponse{TaskID: taskID, Status: string(domain.TaskProcessing)})
}

// TaskStatus reports a task. Unknown and cleaned-up tasks are both not_found.
func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid task id")
		return
	}

	status, err := h.svc.Status(r.Context(), taskID)
	if err != nil {
		h.logger.Error("Failed to read task status", "task_id", taskID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to read task status: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, TaskResponse{TaskID: taskID, Status: string(status.State), Result: status.Result})
}

// CleanupTask deletes a task artifact. Repeating it reports not_found.
func (h *Handler) CleanupTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid task id")
		return
	}

	removed, err := h.svc.Cleanup(r.Context(), taskID)
	if err != nil {
		h.logger.Error("Failed to clean up task", "task_id", taskID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to clean up task: "+err.Error())
		return
	}

	status := string(domain.TaskNotFound)
	if removed {
		status = statusCleaned
	}
	JSON(w, http.StatusOK, TaskResponse{TaskID: taskID, Status: status})
}

func taskIDParam(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "taskId")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// Package api provides HTTP handlers for the agent relay API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/tasks"
	"github.com/go-chi/chi/v5"
)

// Service is the conversation surface the handlers drive.
type Service interface {
	tasks.Queue
	Chat(ctx context.Context, conversationID, agentSessionID, message string) (domain.AgentResult, error)
	Reset(ctx context.Context, conversationID string) error
	Conversations(ctx context.Context) (map[string]domain.ConversationSession, error)
}

var _ Service = (*tasks.Dispatcher)(nil)

// Handler serves the authenticated API routes.
type Handler struct {
	svc          Service
	history      agent.HistorySource
	workDir      string
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(svc Service, history agent.HistorySource, workDir string, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		svc:          svc,
		history:      history,
		workDir:      workDir,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// RegisterRoutes registers the authenticated routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.Chat)
	r.Post("/api/reset", h.Reset)
	r.Get("/api/sessions", h.Sessions)
	r.Get("/api/conversations", h.Conversations)
	r.Post("/api/sessions/{sessionId}/chat", h.SubmitTask)
	r.Get("/api/sessions/{sessionId}/tasks/{taskId}", h.TaskStatus)
	r.Delete("/api/sessions/{sessionId}/tasks/{taskId}", h.CleanupTask)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

var errEmptyBody = errors.New("empty body")

// decodeBody reads a bounded JSON body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PublicHandler serves the unauthenticated routes.
type PublicHandler struct {
	store   Pinger
	workDir string
	logger  *slog.Logger
}

// NewPublicHandler creates the health and config handler.
func NewPublicHandler(store Pinger, workDir string, logger *slog.Logger) *PublicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicHandler{store: store, workDir: workDir, logger: logger}
}

// Health returns the health status of the API and its session store.
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status":  "healthy",
		"service": "agent-api",
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"] = map[string]string{"session_store": "unavailable"}
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// Config exposes the project the agent works in.
func (h *PublicHandler) Config(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"project_path": h.workDir})
}

// RegisterRoutes registers the public routes.
func (h *PublicHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/config", h.Config)
}

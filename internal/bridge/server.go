// Package bridge serves the host side of the agent bridge: it runs the CLI
// for a containerized API server that cannot run it itself.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/api"
	"github.com/go-chi/chi/v5"
)

// DefaultTimeout applies when a request carries none.
const DefaultTimeout = 300 * time.Second

const maxRequestBytes = 4 << 20

// Server handles /execute and /sessions.
type Server struct {
	runner     agent.Runner
	history    agent.HistorySource
	maxTimeout time.Duration
	logger     *slog.Logger
}

// NewServer creates a bridge server. maxTimeout caps what callers may ask for; 0 = no cap.
func NewServer(runner agent.Runner, history agent.HistorySource, maxTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, history: history, maxTimeout: maxTimeout, logger: logger}
}

// RegisterRoutes registers the bridge routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/execute", s.Execute)
	r.Get("/sessions", s.Sessions)
	r.Get("/health", s.Health)
}

// Execute runs the CLI with the posted arguments and returns its raw output.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req agent.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	timeout := DefaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if s.maxTimeout > 0 && timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	out, err := s.runner.Run(ctx, agent.Invocation{Args: req.Args, Dir: req.Cwd, Timeout: timeout})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Agent command timed out", "timeout", timeout)
			api.Error(w, http.StatusInternalServerError, agent.BridgeTimeoutMessage)
			return
		}
		s.logger.Error("Agent command failed to run", "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Agent command finished",
		"exit_code", out.ExitCode,
		"elapsed", time.Since(start),
		"cwd", req.Cwd,
	)
	api.JSON(w, http.StatusOK, out)
}

// Sessions lists the host's agent history, optionally filtered by ?project=.
func (s *Server) Sessions(w http.ResponseWriter, r *http.Request) {
	listing, err := s.history.ListSessions(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.logger.Error("Failed to read agent history", "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, listing)
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "agent-bridge"})
}

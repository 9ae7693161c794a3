// agent-relay server: HTTP front for a synchronous agent CLI.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/api"
	"github.com/ashureev/agent-relay/internal/config"
	"github.com/ashureev/agent-relay/internal/middleware"
	"github.com/ashureev/agent-relay/internal/store"
	"github.com/ashureev/agent-relay/internal/tasks"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const historyCacheTTL = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"addr", cfg.Addr(),
		"project_path", cfg.Agent.WorkDir,
		"session_backend", cfg.Session.Backend,
		"task_backend", cfg.Task.Backend,
		"bridge", cfg.Agent.BridgeURL != "",
	)

	// Initialize dependencies.
	sessions, err := store.Open(cfg.Session)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := sessions.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store ready")

	registry, err := tasks.OpenRegistry(cfg.Task, logger)
	if err != nil {
		slog.Error("Failed to initialize task registry", "error", err)
		os.Exit(1)
	}

	runner, history := buildRunner(cfg, logger)
	cachedHistory, err := agent.NewCachedHistory(history, historyCacheTTL)
	if err != nil {
		slog.Error("Failed to initialize history cache", "error", err)
		os.Exit(1)
	}
	defer cachedHistory.Close()

	invoker := agent.NewInvoker(runner, agent.Options{
		Command:       cfg.Agent.Command,
		WorkDir:       cfg.Agent.WorkDir,
		Timeout:       cfg.Agent.Timeout,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		Logger:        logger,
	})
	dispatcher := tasks.NewDispatcher(registry, invoker, sessions, logger)

	// Initialize handlers.
	publicHandler := api.NewPublicHandler(sessions, cfg.Agent.WorkDir, logger)
	apiHandler := api.NewHandler(dispatcher, cachedHistory, cfg.Agent.WorkDir, cfg.MaxBodyBytes, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	publicHandler.RegisterRoutes(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(cfg.Auth, logger))
		apiHandler.RegisterRoutes(r)
	})

	// Sync chat holds the connection for a whole agent run, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks.StartReaper(ctx, registry, cfg.Task.OrphanTTL, cfg.Task.SweepInterval, logger)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	waitForTasks(dispatcher, cfg.Agent.Timeout)

	slog.Info("Server stopped successfully")
}

// buildRunner picks the host bridge when configured, otherwise spawns the CLI here.
func buildRunner(cfg *config.Config, logger *slog.Logger) (agent.Runner, agent.HistorySource) {
	if cfg.Agent.BridgeURL != "" {
		bridge := agent.NewBridgeRunner(cfg.Agent.BridgeURL, nil, logger)
		slog.Info("Using agent host bridge", "url", cfg.Agent.BridgeURL)
		return bridge, bridge
	}

	if home, err := os.UserHomeDir(); err == nil {
		if err := agent.CheckLogin(home, cfg.Agent.Command); err != nil {
			slog.Warn("Agent CLI login check failed", "error", err)
		}
	}
	if present := agent.PresentVars(cfg.Agent.ScrubEnv); len(present) > 0 {
		slog.Warn("Credential variables are set and will be removed from the agent environment", "vars", present)
	}

	return agent.NewLocalRunner(cfg.Agent.Command, cfg.Agent.ScrubEnv, logger),
		agent.NewFileHistory(cfg.Agent.HistoryFile)
}

// waitForTasks lets in-flight runs write their artifacts; each ends by its own timeout.
func waitForTasks(d *tasks.Dispatcher, limit time.Duration) {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Background tasks drained")
	case <-time.After(limit + 5*time.Second):
		slog.Warn("Gave up waiting for background tasks", "limit", limit)
	}
}

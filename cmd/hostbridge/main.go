// agent-relay host bridge: runs the agent CLI on the host for a containerized server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/bridge"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	home, _ := os.UserHomeDir()

	opts, ok, err := parseFlags(os.Args[1:], home)
	if err != nil || !ok {
		return err
	}
	addr, command, scrubEnv := opts.addr, opts.command, opts.scrubEnv

	if err := agent.CheckLogin(home, command); err != nil {
		slog.Warn("Agent CLI login check failed", "error", err)
	}
	if present := agent.PresentVars(scrubEnv); len(present) > 0 {
		slog.Warn("Credential variables are set and will be removed from the agent environment", "vars", present)
	}

	server := bridge.NewServer(
		agent.NewLocalRunner(command, scrubEnv, logger),
		agent.NewFileHistory(opts.historyFile),
		opts.maxTimeout,
		logger,
	)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	server.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Agent host bridge listening", "addr", addr, "command", command)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down host bridge...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// defaultAddr keeps the unauthenticated bridge on loopback; container
// deployments widen it through BRIDGE_ADDR.
const defaultAddr = "127.0.0.1:8001"

type options struct {
	addr        string
	command     string
	scrubEnv    []string
	historyFile string
	maxTimeout  time.Duration
}

// parseFlags returns ok=false when help was requested.
func parseFlags(args []string, home string) (options, bool, error) {
	var opts options
	flagSet := pflag.NewFlagSet("agent-hostbridge", pflag.ContinueOnError)
	flagSet.StringVar(&opts.addr, "addr", envOr("BRIDGE_ADDR", defaultAddr), "listen address")
	flagSet.StringVar(&opts.command, "command", envOr("AGENT_CLI_COMMAND", "claude"), "agent CLI to execute")
	flagSet.StringSliceVar(&opts.scrubEnv, "scrub-env", envList("AGENT_SCRUB_ENV", []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"}), "environment variables removed from the CLI's environment")
	flagSet.StringVar(&opts.historyFile, "history-file", envOr("AGENT_HISTORY_FILE", filepath.Join(home, ".claude", "history.jsonl")), "agent history log")
	flagSet.DurationVar(&opts.maxTimeout, "max-timeout", 30*time.Minute, "upper bound on a single command; 0 disables")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, false, nil
		}
		return opts, false, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: agent-hostbridge [flags]\n\n%s", flagSet.FlagUsages())
		return opts, false, nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, true, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

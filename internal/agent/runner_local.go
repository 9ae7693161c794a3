package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 2 * time.Second

// LocalRunner spawns the agent CLI as a child process.
type LocalRunner struct {
	command  string
	scrubEnv []string
	logger   *slog.Logger
}

// NewLocalRunner creates a runner for command. Variables named in scrubEnv are
// removed from the child's environment so the CLI falls back to its own login.
func NewLocalRunner(command string, scrubEnv []string, logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		command:  command,
		scrubEnv: scrubEnv,
		logger:   logger,
	}
}

// Run executes the CLI and waits for it. A context deadline kills the whole process group.
func (r *LocalRunner) Run(ctx context.Context, inv Invocation) (RunOutput, error) {
	cmd := exec.CommandContext(ctx, r.command, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = ScrubEnv(os.Environ(), r.scrubEnv)
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Starting agent process", "command", r.command, "dir", inv.Dir, "args", len(inv.Args))

	err := cmd.Run()
	out := RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		if errors.Is(err, exec.ErrWaitDelay) {
			// Exited cleanly but a grandchild held the pipes open.
			return out, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("run %s: %w", r.command, err)
	}
	return out, nil
}

// ScrubEnv returns env without the named variables.
func ScrubEnv(env []string, names []string) []string {
	if len(names) == 0 {
		return env
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := drop[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	return out
}

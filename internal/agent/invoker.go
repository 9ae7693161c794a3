package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout applies when neither the request nor the options set one.
const DefaultTimeout = 10 * time.Minute

// Options configures an Invoker.
type Options struct {
	Command       string // used in user-facing messages
	WorkDir       string
	Timeout       time.Duration
	MaxConcurrent int // 0 = unlimited
	Rules         []Rule
	Logger        *slog.Logger
}

// Invoker runs one agent turn and normalizes the outcome into a domain.AgentResult.
// It never touches the session store or the task registry.
type Invoker struct {
	runner  Runner
	command string
	workDir string
	timeout time.Duration
	sem     *semaphore.Weighted
	rules   []Rule
	logger  *slog.Logger
}

// NewInvoker creates an invoker on top of a runner.
func NewInvoker(runner Runner, opts Options) *Invoker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules
	}

	inv := &Invoker{
		runner:  runner,
		command: filepath.Base(opts.Command),
		workDir: opts.WorkDir,
		timeout: opts.Timeout,
		rules:   opts.Rules,
		logger:  opts.Logger,
	}
	if opts.MaxConcurrent > 0 {
		inv.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return inv
}

// WorkDir returns the default working directory.
func (i *Invoker) WorkDir() string {
	return i.workDir
}

// Timeout returns the default timeout.
func (i *Invoker) Timeout() time.Duration {
	return i.timeout
}

// Invoke runs the agent and always returns a result; expected failures are
// reported with Success=false rather than as errors.
func (i *Invoker) Invoke(ctx context.Context, req Request) domain.AgentResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = i.timeout
	}
	dir := req.WorkDir
	if dir == "" {
		dir = i.workDir
	}

	// The ceiling covers time spent waiting for a slot.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if i.sem != nil {
		if err := i.sem.Acquire(runCtx, 1); err != nil {
			if ctx.Err() == nil {
				i.logger.Warn("Agent run timed out waiting for a slot",
					"resume", req.AgentSessionID != "",
					"timeout", timeout,
				)
				return domain.Failed(domain.ErrorKindTimeout, req.AgentSessionID,
					fmt.Sprintf("Request timed out after %s", formatTimeout(timeout)))
			}
			return domain.Failed(domain.ErrorKindCanceled, req.AgentSessionID,
				fmt.Sprintf("Request canceled before the agent started: %v", err))
		}
		defer i.sem.Release(1)
	}

	start := time.Now()
	out, err := i.runner.Run(runCtx, Invocation{
		Args:    BuildArgs(req.Message, req.AgentSessionID),
		Dir:     dir,
		Timeout: timeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		res := i.runFailure(runCtx, req.AgentSessionID, timeout, err)
		i.logger.Warn("Agent run failed",
			"kind", res.ErrorKind,
			"resume", req.AgentSessionID != "",
			"elapsed", elapsed,
			"error", err,
		)
		return res
	}

	res := i.normalize(out, req.AgentSessionID)
	if res.Success {
		i.logger.Info("Agent run completed",
			"session_id", res.AgentSessionID,
			"turns", res.TurnCount,
			"cost_usd", res.Cost,
			"elapsed", elapsed,
		)
	} else {
		i.logger.Warn("Agent run returned failure",
			"kind", res.ErrorKind,
			"exit_code", out.ExitCode,
			"elapsed", elapsed,
		)
	}
	return res
}

func (i *Invoker) runFailure(runCtx context.Context, sessionID string, timeout time.Duration, err error) domain.AgentResult {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded), errors.Is(err, ErrBridgeTimeout):
		return domain.Failed(domain.ErrorKindTimeout, sessionID,
			fmt.Sprintf("Request timed out after %s", formatTimeout(timeout)))
	case errors.Is(err, context.Canceled):
		return domain.Failed(domain.ErrorKindCanceled, sessionID, "Request canceled")
	case errors.Is(err, ErrTransport):
		return domain.Failed(domain.ErrorKindTransport, sessionID,
			fmt.Sprintf("Cannot reach agent host bridge: %v", err))
	default:
		return domain.Failed(domain.ErrorKindProcess, sessionID,
			fmt.Sprintf("Unexpected error: %v", err))
	}
}

// normalize turns raw process output into a result. On any failure the
// caller's session id is kept since the agent confirmed none.
func (i *Invoker) normalize(out RunOutput, sessionID string) domain.AgentResult {
	if out.ExitCode == 0 {
		parsed, err := ParseOutput([]byte(out.Stdout))
		if err != nil {
			return domain.Failed(domain.ErrorKindMalformedOutput, sessionID,
				fmt.Sprintf("Failed to parse agent response: %v", err))
		}
		if !parsed.IsError {
			return parsed.AsResult()
		}
		return i.classified(sessionID, firstNonEmpty(parsed.Result, out.Stderr))
	}

	msg := out.Stderr
	if parsed, err := ParseOutput([]byte(out.Stdout)); err == nil && parsed.IsError && parsed.Result != "" {
		msg = parsed.Result
	}
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", out.ExitCode)
	}
	return i.classified(sessionID, msg)
}

func (i *Invoker) classified(sessionID, text string) domain.AgentResult {
	kind, msg := Classify(i.rules, i.command, text)
	return domain.Failed(kind, sessionID, "Agent CLI error: "+msg)
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

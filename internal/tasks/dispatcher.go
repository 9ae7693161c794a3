package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/store"
	"github.com/google/uuid"
)

const (
	// NewConversation asks Submit to start a fresh agent session.
	NewConversation = "new"
	// DefaultConversation is used by the sync chat when no id is given.
	DefaultConversation = "default"
)

// Invoker runs one agent turn.
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) domain.AgentResult
}

// Queue is the asynchronous dispatch facade.
type Queue interface {
	// Submit starts a turn in the background and returns its task id at once.
	Submit(ctx context.Context, conversationID, message string, timeout time.Duration) (string, error)
	// Status reports processing, completed (with result) or not_found.
	Status(ctx context.Context, taskID string) (domain.TaskStatus, error)
	// Cleanup removes a task artifact. removed is false when nothing existed.
	Cleanup(ctx context.Context, taskID string) (removed bool, err error)
}

var _ Queue = (*Dispatcher)(nil)

// Dispatcher ties the invoker, the session store and the task registry together.
type Dispatcher struct {
	registry Registry
	invoker  Invoker
	sessions store.SessionStore
	logger   *slog.Logger
	newID    func() string
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry Registry, invoker Invoker, sessions store.SessionStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		invoker:  invoker,
		sessions: sessions,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// ResolveSession returns the agent session to resume for a conversation, or
// "" to start fresh. Store errors are returned, never read as "no session".
func (d *Dispatcher) ResolveSession(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" || conversationID == NewConversation {
		return "", nil
	}
	agentSessionID, ok, err := d.sessions.Get(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("resolve session for %s: %w", conversationID, err)
	}
	if ok {
		return agentSessionID, nil
	}
	// Ids from the resumable-session list are agent session ids themselves.
	if _, err := uuid.Parse(conversationID); err == nil {
		return conversationID, nil
	}
	return "", nil
}

// Submit implements Queue.
func (d *Dispatcher) Submit(ctx context.Context, conversationID, message string, timeout time.Duration) (string, error) {
	if conversationID == "" {
		conversationID = NewConversation
	}
	agentSessionID, err := d.ResolveSession(ctx, conversationID)
	if err != nil {
		return "", err
	}

	taskID := d.newID()
	w, err := d.registry.Reserve(taskID)
	if err != nil {
		return "", fmt.Errorf("reserve task %s: %w", taskID, err)
	}

	req := agent.Request{
		Message:        message,
		AgentSessionID: agentSessionID,
		Timeout:        timeout,
	}

	d.logger.Info("Task submitted",
		"task_id", taskID,
		"conversation_id", conversationID,
		"resume", agentSessionID != "",
	)

	d.wg.Add(1)
	go d.run(taskID, conversationID, req, w)

	return taskID, nil
}

// run executes detached from any request; it ends when the invoker's timeout does.
func (d *Dispatcher) run(taskID, conversationID string, req agent.Request, w io.WriteCloser) {
	defer d.wg.Done()

	ctx := context.Background()
	res := d.invokeSafely(ctx, taskID, req)

	if res.Success && res.AgentSessionID == "" {
		d.logger.Warn("Agent reported no session id, keeping stored session",
			"task_id", taskID,
			"conversation_id", conversationID,
		)
	} else if res.Success {
		key := conversationID
		if key == NewConversation {
			key = res.AgentSessionID
		}
		if key != "" {
			if err := d.sessions.Update(ctx, key, res.AgentSessionID, res.TurnCount); err != nil {
				d.logger.Error("Failed to record session for task",
					"task_id", taskID,
					"conversation_id", key,
					"error", err,
				)
			}
		}
	}

	if err := writeArtifact(w, res); err != nil {
		d.logger.Error("Failed to write task artifact", "task_id", taskID, "error", err)
		return
	}

	d.logger.Info("Task finished",
		"task_id", taskID,
		"success", res.Success,
		"kind", res.ErrorKind,
	)
}

func (d *Dispatcher) invokeSafely(ctx context.Context, taskID string, req agent.Request) (res domain.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Agent invocation panicked", "task_id", taskID, "panic", r)
			res = domain.Failed(domain.ErrorKindProcess, req.AgentSessionID, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()
	return d.invoker.Invoke(ctx, req)
}

// writeArtifact writes the whole result in one Write so readers see either
// nothing, a prefix, or the complete document.
func writeArtifact(w io.WriteCloser, res domain.AgentResult) error {
	data, err := agent.EncodeResult(res)
	if err != nil {
		_ = w.Close()
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	return w.Close()
}

// Status implements Queue. An artifact that does not parse yet is still processing.
func (d *Dispatcher) Status(_ context.Context, taskID string) (domain.TaskStatus, error) {
	data, err := d.registry.Read(taskID)
	if errors.Is(err, ErrNotFound) {
		return domain.TaskStatus{State: domain.TaskNotFound}, nil
	}
	if err != nil {
		return domain.TaskStatus{}, fmt.Errorf("status of task %s: %w", taskID, err)
	}

	res, err := agent.DecodeResult(data)
	if err != nil {
		return domain.TaskStatus{State: domain.TaskProcessing}, nil
	}
	return domain.TaskStatus{State: domain.TaskCompleted, Result: &res}, nil
}

// Cleanup implements Queue.
func (d *Dispatcher) Cleanup(_ context.Context, taskID string) (bool, error) {
	removed, err := d.registry.Remove(taskID)
	if err != nil {
		return false, fmt.Errorf("cleanup task %s: %w", taskID, err)
	}
	if removed {
		d.logger.Debug("Task cleaned up", "task_id", taskID)
	}
	return removed, nil
}

// Chat runs a turn synchronously on the caller's context. An explicit agent
// session id wins over the stored one. The store is updated on success.
func (d *Dispatcher) Chat(ctx context.Context, conversationID, agentSessionID, message string) (domain.AgentResult, error) {
	if conversationID == "" {
		conversationID = DefaultConversation
	}
	if agentSessionID == "" {
		var err error
		agentSessionID, err = d.ResolveSession(ctx, conversationID)
		if err != nil {
			return domain.AgentResult{}, err
		}
	}

	res := d.invoker.Invoke(ctx, agent.Request{Message: message, AgentSessionID: agentSessionID})
	if res.Success && res.AgentSessionID == "" {
		d.logger.Warn("Agent reported no session id, keeping stored session", "conversation_id", conversationID)
		return res, nil
	}
	if res.Success {
		if err := d.sessions.Update(ctx, conversationID, res.AgentSessionID, res.TurnCount); err != nil {
			return res, fmt.Errorf("record session for %s: %w", conversationID, err)
		}
	}
	return res, nil
}

// Reset forgets a conversation's agent session.
func (d *Dispatcher) Reset(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		conversationID = DefaultConversation
	}
	if err := d.sessions.Reset(ctx, conversationID); err != nil {
		return fmt.Errorf("reset %s: %w", conversationID, err)
	}
	d.logger.Info("Conversation reset", "conversation_id", conversationID)
	return nil
}

// Conversations lists the stored conversations.
func (d *Dispatcher) Conversations(ctx context.Context) (map[string]domain.ConversationSession, error) {
	return d.sessions.List(ctx)
}

// Wait blocks until every background run has written its artifact.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

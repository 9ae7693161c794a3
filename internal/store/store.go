// Package store persists the conversation-to-agent-session mapping.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/agent-relay/internal/domain"
)

// ErrCorrupt means the persisted sessions could not be read. It is never
// treated as "no session".
var ErrCorrupt = errors.New("session store is corrupt")

// SessionStore maps conversation ids to agent sessions. All operations are
// atomic with respect to each other.
type SessionStore interface {
	// Get returns the agent session id for a conversation. ok is false when
	// the conversation is unknown or has no agent session yet.
	Get(ctx context.Context, conversationID string) (agentSessionID string, ok bool, err error)

	// Update records the outcome of a successful turn, creating the
	// conversation on first use. created_at is set once; turn count is overwritten.
	Update(ctx context.Context, conversationID, agentSessionID string, turnCount int) error

	// Reset forgets a conversation. Unknown ids are not an error.
	Reset(ctx context.Context, conversationID string) error

	// List returns every conversation keyed by id.
	List(ctx context.Context) (map[string]domain.ConversationSession, error)

	// Ping verifies the backing storage is readable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

var (
	_ SessionStore = (*JSONFileStore)(nil)
	_ SessionStore = (*SQLiteStore)(nil)
)

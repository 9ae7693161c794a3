// Package domain contains core domain types for the agent relay.
package domain

import "time"

// ConversationSession maps a caller-chosen conversation to the agent session
// that should be resumed for its next turn.
type ConversationSession struct {
	ConversationID string    `json:"-"`
	AgentSessionID string    `json:"session_id"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// HasAgentSession returns true once the agent has issued a session id.
func (s *ConversationSession) HasAgentSession() bool {
	return s.AgentSessionID != ""
}

// HistorySession is one resumable agent session read from the agent's own history log.
type HistorySession struct {
	SessionID string `json:"session_id"`
	Display   string `json:"display"`
	Project   string `json:"project"`
	Timestamp int64  `json:"timestamp"`
}

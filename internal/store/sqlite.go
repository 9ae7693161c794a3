package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // serializes writes to avoid SQLITE_BUSY
	now   func() time.Time
	retry shared.RetryPolicy
}

// NewSQLite creates a SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		agent_session_id TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements SessionStore.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (string, bool, error) {
	var agentSessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_session_id FROM conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&agentSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get conversation: %w", err)
	}
	if agentSessionID == "" {
		return "", false, nil
	}
	return agentSessionID, true, nil
}

// Update implements SessionStore. created_at survives the upsert.
func (s *SQLiteStore) Update(ctx context.Context, conversationID, agentSessionID string, turnCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO conversations (conversation_id, agent_session_id, turn_count, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			agent_session_id = excluded.agent_session_id,
			turn_count = excluded.turn_count,
			last_message_at = excluded.last_message_at`

	now := s.now().UnixMilli()
	err := shared.RetryOnConflict(ctx, s.retry, "update_conversation", func() error {
		_, err := s.db.ExecContext(ctx, query, conversationID, agentSessionID, turnCount, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conversationID, err)
	}
	return nil
}

// Reset implements SessionStore.
func (s *SQLiteStore) Reset(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "reset_conversation", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	if rows == 0 {
		slog.Debug("Reset found no conversation", "conversation_id", conversationID)
	}
	return nil
}

// List implements SessionStore.
func (s *SQLiteStore) List(ctx context.Context) (map[string]domain.ConversationSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, agent_session_id, turn_count, created_at, last_message_at
		FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	out := make(map[string]domain.ConversationSession)
	for rows.Next() {
		var sess domain.ConversationSession
		var createdAt, lastMessageAt int64
		if err := rows.Scan(&sess.ConversationID, &sess.AgentSessionID, &sess.TurnCount, &createdAt, &lastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt).UTC()
		sess.LastMessageAt = time.UnixMilli(lastMessageAt).UTC()
		out[sess.ConversationID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

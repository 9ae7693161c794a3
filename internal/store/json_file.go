package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
)

type document struct {
	Conversations map[string]domain.ConversationSession `json:"conversations"`
}

// JSONFileStore keeps every conversation in one JSON document. Each mutation
// reads the whole document, changes it and writes it back under one mutex.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewJSONFile creates a store at path, creating the parent directory and an
// empty document if none exists. An existing document is left untouched.
func NewJSONFile(path string) (*JSONFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	s := &JSONFileStore{path: path, now: time.Now}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(&document{Conversations: map[string]domain.ConversationSession{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat session file: %w", err)
	}
	return s, nil
}

// Path returns the document location.
func (s *JSONFileStore) Path() string {
	return s.path
}

// Get implements SessionStore.
func (s *JSONFileStore) Get(ctx context.Context, conversationID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	sess, ok := doc.Conversations[conversationID]
	if !ok || !sess.HasAgentSession() {
		return "", false, nil
	}
	return sess.AgentSessionID, true, nil
}

// Update implements SessionStore.
func (s *JSONFileStore) Update(ctx context.Context, conversationID, agentSessionID string, turnCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	sess, ok := doc.Conversations[conversationID]
	if !ok {
		sess.CreatedAt = now
	}
	sess.AgentSessionID = agentSessionID
	sess.TurnCount = turnCount
	sess.LastMessageAt = now
	doc.Conversations[conversationID] = sess

	return s.write(doc)
}

// Reset implements SessionStore.
func (s *JSONFileStore) Reset(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Conversations[conversationID]; !ok {
		return nil
	}
	delete(doc.Conversations, conversationID)
	return s.write(doc)
}

// List implements SessionStore.
func (s *JSONFileStore) List(ctx context.Context) (map[string]domain.ConversationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ConversationSession, len(doc.Conversations))
	for id, sess := range doc.Conversations {
		sess.ConversationID = id
		out[id] = sess
	}
	return out, nil
}

// Ping reports whether the document is readable.
func (s *JSONFileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.load()
	return err
}

// Close is a no-op; the document is rewritten on every mutation.
func (s *JSONFileStore) Close() error {
	return nil
}

// load must be called with mu held. A missing or blank file is an empty document.
func (s *JSONFileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Conversations: map[string]domain.ConversationSession{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}

	doc := &document{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, s.path, err)
		}
	}
	if doc.Conversations == nil {
		doc.Conversations = map[string]domain.ConversationSession{}
	}
	return doc, nil
}

// write replaces the document atomically via a temp file in the same directory.
func (s *JSONFileStore) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

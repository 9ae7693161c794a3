package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	maxHistorySessions = 20
	maxDisplayRunes    = 100
	maxHistoryLineSize = 4 << 20
)

// HistoryListing is the resumable-session list returned to clients.
type HistoryListing struct {
	Sessions []domain.HistorySession `json:"sessions"`
	Hint     string                  `json:"hint,omitempty"`
}

type historyEntry struct {
	SessionID string `json:"sessionId"`
	Display   string `json:"display"`
	Project   string `json:"project"`
	Timestamp int64  `json:"timestamp"`
}

// FileHistory reads the agent's own JSONL history log.
type FileHistory struct {
	path string
}

// NewFileHistory creates a history source for path (usually ~/.claude/history.jsonl).
func NewFileHistory(path string) *FileHistory {
	return &FileHistory{path: path}
}

// ListSessions returns the most recent sessions recorded for project.
// An empty project lists every project.
func (h *FileHistory) ListSessions(_ context.Context, project string) (HistoryListing, error) {
	f, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return HistoryListing{
			Sessions: []domain.HistorySession{},
			Hint:     noSessionsHint(project),
		}, nil
	}
	if err != nil {
		return HistoryListing{}, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	sessions, err := ReadHistory(f, project)
	if err != nil {
		return HistoryListing{}, err
	}

	listing := HistoryListing{Sessions: sessions}
	if len(sessions) == 0 {
		listing.Hint = noSessionsHint(project)
	}
	return listing, nil
}

// ReadHistory parses history lines, skipping malformed ones. The latest entry
// per session wins; results are newest first and capped.
func ReadHistory(r io.Reader, project string) ([]domain.HistorySession, error) {
	latest := make(map[string]domain.HistorySession)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHistoryLineSize)
	for scanner.Scan() {
		var entry historyEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.SessionID == "" {
			continue
		}
		if project != "" && entry.Project != project {
			continue
		}
		latest[entry.SessionID] = domain.HistorySession{
			SessionID: entry.SessionID,
			Display:   truncateRunes(entry.Display, maxDisplayRunes),
			Project:   entry.Project,
			Timestamp: entry.Timestamp,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	sessions := make([]domain.HistorySession, 0, len(latest))
	for _, s := range latest {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Timestamp != sessions[j].Timestamp {
			return sessions[i].Timestamp > sessions[j].Timestamp
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	if len(sessions) > maxHistorySessions {
		sessions = sessions[:maxHistorySessions]
	}
	return sessions, nil
}

func noSessionsHint(project string) string {
	if project == "" {
		return "No agent sessions found. Start a session by running the agent CLI first."
	}
	return fmt.Sprintf("No agent sessions found for project: %s. Start a session by running the agent CLI in this directory first, or create a new session via the async chat API.", project)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// CachedHistory keeps listings for a short TTL so polling clients do not
// rescan the history log on every request.
type CachedHistory struct {
	source HistorySource
	cache  *ristretto.Cache[string, HistoryListing]
	ttl    time.Duration
}

// NewCachedHistory wraps source with an in-process cache.
func NewCachedHistory(source HistorySource, ttl time.Duration) (*CachedHistory, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, HistoryListing]{
		NumCounters:        1000,
		MaxCost:            100,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &CachedHistory{source: source, cache: cache, ttl: ttl}, nil
}

// ListSessions serves from cache when fresh.
func (c *CachedHistory) ListSessions(ctx context.Context, project string) (HistoryListing, error) {
	if listing, ok := c.cache.Get(project); ok {
		return listing, nil
	}
	listing, err := c.source.ListSessions(ctx, project)
	if err != nil {
		return HistoryListing{}, err
	}
	c.cache.SetWithTTL(project, listing, 1, c.ttl)
	c.cache.Wait()
	return listing, nil
}

// Close releases the cache.
func (c *CachedHistory) Close() {
	c.cache.Close()
}

package tasks

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const artifactExt = ".json"

// FileRegistry keeps artifacts as <dir>/<prefix><taskId>.json so any process
// sharing the directory can observe them.
type FileRegistry struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewFileRegistry creates dir if needed.
func NewFileRegistry(dir, prefix string, logger *slog.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	return &FileRegistry{dir: dir, prefix: prefix, logger: logger}, nil
}

// Path returns the artifact path for a task.
func (r *FileRegistry) Path(taskID string) string {
	return filepath.Join(r.dir, r.prefix+taskID+artifactExt)
}

// Reserve implements Registry. The file is created exclusively so a task id
// can never be reused while its artifact exists.
func (r *FileRegistry) Reserve(taskID string) (io.WriteCloser, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(r.Path(taskID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrExists, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve artifact: %w", err)
	}
	return f, nil
}

// Read implements Registry.
func (r *FileRegistry) Read(taskID string) ([]byte, error) {
	if err := validateID(taskID); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(r.Path(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Remove implements Registry.
func (r *FileRegistry) Remove(taskID string) (bool, error) {
	if err := validateID(taskID); err != nil {
		return false, nil
	}
	err := os.Remove(r.Path(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove artifact: %w", err)
	}
	return true, nil
}

// Sweep implements Registry using file modification times.
func (r *FileRegistry) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("list task directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, r.prefix) || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Failed to remove orphaned artifact", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

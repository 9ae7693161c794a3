// Package tasks runs agent turns in the background and tracks them through
// write-once result artifacts.
package tasks

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound means no artifact exists for the task id.
	ErrNotFound = errors.New("task not found")
	// ErrExists means an artifact was already reserved under the task id.
	ErrExists = errors.New("task already exists")
	// ErrInvalidID means the task id cannot name an artifact.
	ErrInvalidID = errors.New("invalid task id")
)

// Registry stores one artifact per task. An empty or partial artifact means
// the task is still running; a complete one is the result; none means unknown.
type Registry interface {
	// Reserve creates an empty artifact and returns the writer for its single write.
	Reserve(taskID string) (io.WriteCloser, error)
	// Read returns the artifact bytes as they are now, or ErrNotFound.
	Read(taskID string) ([]byte, error)
	// Remove deletes the artifact. removed is false when there was none.
	Remove(taskID string) (removed bool, err error)
	// Sweep removes artifacts reserved more than olderThan ago.
	Sweep(olderThan time.Duration) (int, error)
}

var (
	_ Registry = (*FileRegistry)(nil)
	_ Registry = (*MemoryRegistry)(nil)
)

func validateID(taskID string) error {
	if taskID == "" || taskID == "." || taskID == ".." || strings.ContainsAny(taskID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, taskID)
	}
	return nil
}

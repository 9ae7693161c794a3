package tasks

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

type memArtifact struct {
	data     bytes.Buffer
	reserved time.Time
}

// MemoryRegistry keeps artifacts in process. Results do not survive a restart.
type MemoryRegistry struct {
	mu        sync.Mutex
	artifacts map[string]*memArtifact
	now       func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		artifacts: make(map[string]*memArtifact),
		now:       time.Now,
	}
}

// Reserve implements Registry.
func (r *MemoryRegistry) Reserve(taskID string) (io.WriteCloser, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.artifacts[taskID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, taskID)
	}
	a := &memArtifact{reserved: r.now()}
	r.artifacts[taskID] = a
	return &memWriter{reg: r, artifact: a}, nil
}

// Read implements Registry.
func (r *MemoryRegistry) Read(taskID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.artifacts[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(a.data.Bytes()), nil
}

// Remove implements Registry.
func (r *MemoryRegistry) Remove(taskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.artifacts[taskID]; !ok {
		return false, nil
	}
	delete(r.artifacts, taskID)
	return true, nil
}

// Sweep implements Registry.
func (r *MemoryRegistry) Sweep(olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-olderThan)
	removed := 0
	for id, a := range r.artifacts {
		if a.reserved.After(cutoff) {
			continue
		}
		delete(r.artifacts, id)
		removed++
	}
	return removed, nil
}

type memWriter struct {
	reg      *MemoryRegistry
	artifact *memArtifact
	closed   bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("write to closed artifact")
	}
	return w.artifact.data.Write(p)
}

func (w *memWriter) Close() error {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	w.closed = true
	return nil
}

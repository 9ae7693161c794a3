package tasks

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/agent-relay/internal/config"
)

// OpenRegistry builds the registry selected by cfg.
func OpenRegistry(cfg config.TaskConfig, logger *slog.Logger) (Registry, error) {
	switch cfg.Backend {
	case config.TaskBackendFile:
		r, err := NewFileRegistry(cfg.Dir, cfg.Prefix, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.TaskBackendMemory:
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("unknown task backend %q", cfg.Backend)
	}
}

package store

import (
	"fmt"

	"github.com/ashureev/agent-relay/internal/config"
)

// Open builds the session store selected by cfg.
func Open(cfg config.SessionConfig) (SessionStore, error) {
	switch cfg.Backend {
	case config.SessionBackendJSON:
		s, err := NewJSONFile(cfg.File)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SessionBackendSQLite:
		s, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

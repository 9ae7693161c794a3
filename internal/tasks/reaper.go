package tasks

import (
	"context"
	"log/slog"
	"time"
)

// StartReaper periodically removes artifacts nobody cleaned up. ttl must
// exceed the agent timeout so running tasks are never swept.
func StartReaper(ctx context.Context, registry Registry, ttl, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Task reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(registry, ttl, logger)
			case <-ctx.Done():
				logger.Info("Task reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(registry Registry, ttl time.Duration, logger *slog.Logger) {
	removed, err := registry.Sweep(ttl)
	if err != nil {
		logger.Error("Task reaper sweep failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("Task reaper removed orphaned artifacts", "count", removed)
	}
}

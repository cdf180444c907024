package chat

import (
	"context"
	"log/slog"
	"time"
)

// EvictCallback is called for every conversation the sweeper discards.
type EvictCallback func(e *Entry)

// StartSweeper runs a background goroutine that periodically discards
// conversations idle for longer than ttl. It stops when ctx is done.
func StartSweeper(ctx context.Context, reg *Registry, ttl, interval time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(reg, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(reg *Registry, ttl time.Duration, onEvict EvictCallback) int {
	evicted := reg.Evict(ttl)
	if len(evicted) == 0 {
		return 0
	}

	for _, e := range evicted {
		if onEvict != nil {
			onEvict(e)
		}
	}

	slog.Info("Session sweep completed", "evicted", len(evicted), "remaining", reg.Len())
	return len(evicted)
}

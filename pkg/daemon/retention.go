package daemon

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultRetention     = 24 * time.Hour
	defaultPruneInterval = time.Minute
)

// RetentionLoop prunes the log store every interval so history queries stay
// bounded.
type RetentionLoop struct {
	store     *LogStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewRetentionLoop creates a retention loop for store. Zero durations select
// the defaults (24h retention, pruned every minute).
func NewRetentionLoop(store *LogStore, retention, interval time.Duration, logger *slog.Logger) *RetentionLoop {
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionLoop{store: store, retention: retention, interval: interval, logger: logger}
}

// Run prunes once immediately and then every interval. Blocks until ctx is
// cancelled.
func (rl *RetentionLoop) Run(ctx context.Context) {
	rl.tick(ctx)

	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.tick(ctx)
		}
	}
}

func (rl *RetentionLoop) tick(ctx context.Context) {
	n, err := rl.store.Prune(ctx, rl.retention)
	if err != nil {
		if ctx.Err() == nil {
			rl.logger.Error("prune log store", "err", err)
		}
		return
	}
	if n > 0 {
		rl.logger.Info("pruned log lines", "count", n, "retention", rl.retention)
	}
}

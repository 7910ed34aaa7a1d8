package ingest

import (
	"context"
	"log/slog"
	"time"
)

// statsRetention is how long persisted counter snapshots are kept
const statsRetention = 90 * 24 * time.Hour

// Pruner deletes trajectory rows older than the retention window
type Pruner interface {
	Prune(ctx context.Context, trajectoryRetention, statsRetention time.Duration) (int64, error)
}

// RunRetention prunes old rows every interval until ctx is cancelled
func RunRetention(ctx context.Context, p Pruner, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Prune(ctx, retention, statsRetention)
			if err != nil {
				logger.Warn("retention pass failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned trajectory data", "rows", n, "retention", retention)
			}
		}
	}
}

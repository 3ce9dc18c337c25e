package history

import (
	"context"
	"time"
)

// Logger is the subset of the application logger the pruner needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RunPruner prunes repo once immediately and then every interval until ctx
// is cancelled. It blocks; run it in its own goroutine.
func RunPruner(ctx context.Context, repo Repository, retention, interval time.Duration, logger Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}

	prune := func() {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error("pruning payload history failed", "error", err)
		case n > 0:
			logger.Info("pruned payload history", "deleted", n, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

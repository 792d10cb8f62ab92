package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StalePurger deletes attempt records untouched for longer than retention
type StalePurger interface {
	PurgeStale(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically sweeps stale attempt records so identities that
// never log in successfully do not keep their history forever
type CleanupManager struct {
	purgers   map[string]StalePurger
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager. purgers are keyed by a
// name used in logs.
func NewCleanupManager(
	purgers map[string]StalePurger,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		purgers:   purgers,
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic sweep and blocks until Stop or ctx is done.
// A zero retention or interval disables the sweep.
func (cm *CleanupManager) Start(ctx context.Context) {
	if cm.retention <= 0 || cm.interval <= 0 {
		cm.logger.Info("attempt cleanup disabled")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce sweeps every store once and returns the total number of deleted records
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var total int64
	for name, purger := range cm.purgers {
		deleted, err := purger.PurgeStale(cleanupCtx, cm.retention)
		if err != nil {
			cm.logger.Error("failed to purge stale attempts",
				slog.String("family", name),
				slog.Any("error", err))
			continue
		}

		if deleted > 0 {
			cm.logger.Info("stale attempt cleanup completed",
				slog.String("family", name),
				slog.Int64("rows_deleted", deleted))
		}
		total += deleted
	}
	return total
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

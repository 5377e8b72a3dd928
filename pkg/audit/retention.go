package audit

import (
	"context"
	"log/slog"
	"time"
)

// purger deletes audit rows older than a cutoff. *AuditStore implements it.
type purger interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// RetentionWorker periodically purges audit events older than the retention window.
type RetentionWorker struct {
	store     purger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRetentionWorker creates a RetentionWorker that keeps retentionDays of
// events and runs daily.
func NewRetentionWorker(store *AuditStore, retentionDays int, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &RetentionWorker{
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  24 * time.Hour,
		now:       time.Now,
		logger:    logger,
	}
	if store != nil {
		w.store = store
	}
	return w
}

// Run purges once at startup and then on every tick until ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention worker disabled",
			"hasStore", w.store != nil,
			"retentionDays", int(w.retention.Hours()/24))
		return
	}

	w.logger.Info("audit retention worker started",
		"retentionDays", int(w.retention.Hours()/24),
		"interval", w.interval.String())
	w.RunOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention worker stopped")
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single retention pass and returns the number of purged rows.
func (w *RetentionWorker) RunOnce() int64 {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(cutoff)
	if err != nil {
		w.logger.Error("audit retention cleanup failed", "error", err)
		return 0
	}
	if deleted > 0 {
		w.logger.Info("audit retention cleanup completed",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}

package ha

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// leaseRecord is one named lease in the leader_leases table.
type leaseRecord struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Holder    string    `gorm:"column:holder;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	RenewedAt time.Time `gorm:"column:renewed_at"`
}

func (leaseRecord) TableName() string { return "leader_leases" }

// LeaderElector elects one replica, through a row in the shared database, to
// run singleton background loops such as audit retention, the proposal sweep
// and crop catalog reloads.
type LeaderElector struct {
	config   *HAConfig
	db       *gorm.DB
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
	now      func() time.Time
	onStart  func(ctx context.Context)
	onStop   func()
}

// NewLeaderElector creates a LeaderElector. The identity should be unique
// per replica (typically the pod name or hostname).
func NewLeaderElector(cfg *HAConfig, db *gorm.DB, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		db:       db,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes leader.
// The provided context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// AutoMigrate creates the leader_leases table.
func (le *LeaderElector) AutoMigrate() error {
	return le.db.AutoMigrate(&leaseRecord{})
}

// TryAcquire takes or renews the lease. It returns true when this instance
// holds the lease afterwards.
func (le *LeaderElector) TryAcquire(ctx context.Context) (bool, error) {
	now := le.now().UTC()
	expires := now.Add(le.config.LeaseDuration)
	db := le.db.WithContext(ctx)

	res := db.Model(&leaseRecord{}).
		Where("name = ? AND (holder = ? OR expires_at < ?)", le.config.LeaseName, le.identity, now).
		Updates(map[string]any{"holder": le.identity, "expires_at": expires, "renewed_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// No row, or held by someone else. Insert is a no-op if the row exists.
	res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&leaseRecord{
		Name:      le.config.LeaseName,
		Holder:    le.identity,
		ExpiresAt: expires,
		RenewedAt: now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release gives up the lease if this instance holds it.
func (le *LeaderElector) Release(ctx context.Context) error {
	return le.db.WithContext(ctx).
		Where("name = ? AND holder = ?", le.config.LeaseName, le.identity).
		Delete(&leaseRecord{}).Error
}

// Run campaigns for the lease until ctx is cancelled. Leadership callbacks
// fire on every transition; the OnStartLeading context ends when the lease
// is lost or ctx is cancelled.
func (le *LeaderElector) Run(ctx context.Context) {
	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"leaseDuration", le.config.LeaseDuration,
		"retryPeriod", le.config.RetryPeriod,
	)

	var (
		leading context.Context
		stop    context.CancelFunc
	)
	ticker := time.NewTicker(le.config.RetryPeriod)
	defer ticker.Stop()

	for {
		held, err := le.TryAcquire(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			le.logger.Warn("lease attempt failed", "error", err)
		}

		switch {
		case held && stop == nil:
			leading, stop = context.WithCancel(ctx)
			le.setLeader(true)
			le.logger.Info("elected as leader", "identity", le.identity)
			if le.onStart != nil {
				go le.onStart(leading)
			}
		case !held && stop != nil:
			stop()
			stop = nil
			le.setLeader(false)
			le.logger.Info("lost leadership", "identity", le.identity)
			if le.onStop != nil {
				le.onStop()
			}
		}

		select {
		case <-ctx.Done():
			if stop != nil {
				stop()
				le.setLeader(false)
				_ = le.Release(context.Background())
				if le.onStop != nil {
					le.onStop()
				}
			}
			return
		case <-ticker.C:
		}
	}
}

func (le *LeaderElector) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
}

package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLockName identifies the plots schema migration lock.
const MigrationLockName = "plots-server-migration"

// MigrationLocker serializes AutoMigrate across replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks; SQLite and MySQL use a lock table,
// which is created immediately.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return &noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: advisoryLockID(MigrationLockName),
		}
	}
	lock := &tableMigrationLock{
		db:            db,
		maxRetries:    30,
		retryInterval: time.Second,
		staleAge:      5 * time.Minute,
	}
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

func advisoryLockID(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)))
}

// noopMigrationLock is used when no database is configured.
type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock uses PostgreSQL session advisory locks.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

// migrationLockRecord is the table-based lock row.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock relies on primary-key uniqueness: the holder is whoever
// inserted the row. Rows older than staleAge are treated as abandoned.
type tableMigrationLock struct {
	db            *gorm.DB
	maxRetries    int
	retryInterval time.Duration
	staleAge      time.Duration
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	lockRow := migrationLockRecord{ID: MigrationLockName, LockedBy: hostname}

	var lastErr error
	for i := 0; i < l.maxRetries; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", MigrationLockName, time.Now().Add(-l.staleAge)).
			Delete(&migrationLockRecord{})

		lockRow.LockedAt = time.Now()
		if lastErr = l.db.WithContext(ctx).Create(&lockRow).Error; lastErr == nil {
			defer l.db.Where("id = ?", MigrationLockName).Delete(&migrationLockRecord{})
			return fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return fmt.Errorf("failed to acquire migration lock after %d retries: %w", l.maxRetries, lastErr)
}

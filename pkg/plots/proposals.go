package plots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrogestion/plots/pkg/cache"
)

// ProposalStore holds at most one open proposal per plot. Put replaces any
// existing proposal for the same plot.
type ProposalStore interface {
	Put(ctx context.Context, p *Proposal) error
	// Get returns the plot's open proposal, or nil when there is none or it
	// has expired.
	Get(ctx context.Context, plotID string) (*Proposal, error)
	// Delete removes the plot's proposal. With a non-empty proposalID only a
	// matching proposal is removed. Deleting nothing is not an error.
	Delete(ctx context.Context, plotID, proposalID string) error
}

// ProposalSweeper is implemented by stores that keep expired proposals
// around until swept.
type ProposalSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// MemoryProposalStore keeps proposals in a TTL cache. Proposals are lost on
// restart and are not shared between replicas.
type MemoryProposalStore struct {
	mu    sync.Mutex
	cache *cache.TTLCache[Proposal]
}

const maxOpenProposals = 100000

// NewMemoryProposalStore creates an in-memory store. ttl is the fallback
// expiry for proposals without ExpiresAt.
func NewMemoryProposalStore(ttl time.Duration) *MemoryProposalStore {
	return &MemoryProposalStore{cache: cache.NewTTLCache[Proposal](maxOpenProposals, ttl)}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryProposalStore) WithClock(now func() time.Time) *MemoryProposalStore {
	s.cache.WithClock(now)
	return s
}

func (s *MemoryProposalStore) Put(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.SetUntil(p.PlotID, *p, p.ExpiresAt)
	return nil
}

func (s *MemoryProposalStore) Get(_ context.Context, plotID string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.cache.Get(plotID)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryProposalStore) Delete(_ context.Context, plotID, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposalID != "" {
		p, ok := s.cache.Get(plotID)
		if !ok || p.ID != proposalID {
			return nil
		}
	}
	s.cache.Invalidate(plotID)
	return nil
}

// Sweep drops expired proposals.
func (s *MemoryProposalStore) Sweep(_ context.Context) (int, error) {
	return s.cache.Sweep(), nil
}

// proposalRecord is the plot_proposals row. The proposal itself is stored
// as JSON so payload changes need no migration.
type proposalRecord struct {
	PlotID     string    `gorm:"primaryKey;column:plot_id;type:varchar(36)"`
	ProposalID string    `gorm:"column:proposal_id;type:varchar(36);not null"`
	CompanyID  string    `gorm:"column:company_id;not null"`
	Payload    string    `gorm:"column:payload;type:text;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;index;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (proposalRecord) TableName() string { return "plot_proposals" }

// DBProposalStore keeps proposals in the database so every replica sees them.
type DBProposalStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDBProposalStore creates a database-backed store.
func NewDBProposalStore(db *gorm.DB) *DBProposalStore {
	return &DBProposalStore{db: db, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *DBProposalStore) WithClock(now func() time.Time) *DBProposalStore {
	s.now = now
	return s
}

// AutoMigrate creates or updates the plot_proposals table.
func (s *DBProposalStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&proposalRecord{}); err != nil {
		return fmt.Errorf("auto-migrate plot_proposals: %w", err)
	}
	return nil
}

func (s *DBProposalStore) Put(ctx context.Context, p *Proposal) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	rec := proposalRecord{
		PlotID:     p.PlotID,
		ProposalID: p.ID,
		CompanyID:  p.CompanyID,
		Payload:    string(payload),
		ExpiresAt:  p.ExpiresAt.UTC(),
		CreatedAt:  p.CreatedAt.UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"proposal_id", "company_id", "payload", "expires_at", "created_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store proposal: %w", err)
	}
	return nil
}

func (s *DBProposalStore) Get(ctx context.Context, plotID string) (*Proposal, error) {
	var rec proposalRecord
	err := s.db.WithContext(ctx).
		Where("plot_id = ? AND expires_at > ?", plotID, s.now().UTC()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	var p Proposal
	if err := json.Unmarshal([]byte(rec.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

func (s *DBProposalStore) Delete(ctx context.Context, plotID, proposalID string) error {
	q := s.db.WithContext(ctx).Where("plot_id = ?", plotID)
	if proposalID != "" {
		q = q.Where("proposal_id = ?", proposalID)
	}
	if err := q.Delete(&proposalRecord{}).Error; err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	return nil
}

// Sweep deletes expired proposals.
func (s *DBProposalStore) Sweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&proposalRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep proposals: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// RunProposalSweeper sweeps expired proposals every interval until ctx is done.
func RunProposalSweeper(ctx context.Context, s ProposalSweeper, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("proposal sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired proposals swept", "count", n)
			}
		}
	}
}

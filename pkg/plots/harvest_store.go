package plots

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// HarvestStore persists harvest records.
type HarvestStore struct {
	db *gorm.DB
}

// NewHarvestStore creates a new HarvestStore.
func NewHarvestStore(db *gorm.DB) *HarvestStore {
	return &HarvestStore{db: db}
}

// AutoMigrate creates or updates the harvest_records table.
func (s *HarvestStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&HarvestRecord{}); err != nil {
		return fmt.Errorf("auto-migrate harvest_records: %w", err)
	}
	return nil
}

func createHarvest(tx *gorm.DB, rec *HarvestRecord) error {
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("create harvest record: %w", err)
	}
	return nil
}

// Latest returns the most recent harvest of a plot, or nil if it has none.
func (s *HarvestStore) Latest(plotID string) (*HarvestRecord, error) {
	return latestHarvest(s.db, plotID)
}

func latestHarvest(db *gorm.DB, plotID string) (*HarvestRecord, error) {
	var rec HarvestRecord
	err := db.Where("plot_id = ?", plotID).
		Order("harvest_date DESC, created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest harvest: %w", err)
	}
	return &rec, nil
}

// Get returns a plot's harvest by id, or nil if it does not exist.
func (s *HarvestStore) Get(plotID, id string) (*HarvestRecord, error) {
	var rec HarvestRecord
	if err := s.db.Where("id = ? AND plot_id = ?", id, plotID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get harvest: %w", err)
	}
	return &rec, nil
}

// ListByPlot returns a plot's harvests, most recent first.
func (s *HarvestStore) ListByPlot(plotID string) ([]HarvestRecord, error) {
	var out []HarvestRecord
	err := s.db.Where("plot_id = ?", plotID).
		Order("harvest_date DESC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list harvests: %w", err)
	}
	return out, nil
}

// ListByCompany returns a company's harvests, most recent first.
func (s *HarvestStore) ListByCompany(companyID string) ([]HarvestRecord, error) {
	var out []HarvestRecord
	err := s.db.Where("company_id = ?", companyID).
		Order("harvest_date DESC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list company harvests: %w", err)
	}
	return out, nil
}

// ListByCompanySince returns a company's harvests dated at or after since,
// most recent first.
func (s *HarvestStore) ListByCompanySince(companyID string, since time.Time) ([]HarvestRecord, error) {
	var out []HarvestRecord
	err := s.db.Where("company_id = ? AND harvest_date >= ?", companyID, since).
		Order("harvest_date DESC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list recent harvests: %w", err)
	}
	return out, nil
}

// GetInCompany returns a company's harvest by id, or nil if it does not exist.
func (s *HarvestStore) GetInCompany(companyID, id string) (*HarvestRecord, error) {
	var rec HarvestRecord
	if err := s.db.Where("id = ? AND company_id = ?", id, companyID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get harvest: %w", err)
	}
	return &rec, nil
}

// Delete removes a harvest record. Returns false when nothing matched.
func (s *HarvestStore) Delete(plotID, id string) (bool, error) {
	res := s.db.Where("id = ? AND plot_id = ?", id, plotID).Delete(&HarvestRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("delete harvest: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// annotateRelease stamps the release on a harvest record. justification is
// only set for forced releases.
func annotateRelease(tx *gorm.DB, id string, at time.Time, by string, justification *string) error {
	updates := map[string]any{
		"released_at": at,
		"released_by": by,
	}
	if justification != nil {
		updates["forced_release_justification"] = *justification
	}
	if err := tx.Model(&HarvestRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("annotate harvest release: %w", err)
	}
	return nil
}

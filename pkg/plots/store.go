package plots

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PlotStore persists plots.
type PlotStore struct {
	db *gorm.DB
}

// NewPlotStore creates a new PlotStore.
func NewPlotStore(db *gorm.DB) *PlotStore {
	return &PlotStore{db: db}
}

// AutoMigrate creates or updates the plots table.
func (s *PlotStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&PlotRecord{}); err != nil {
		return fmt.Errorf("auto-migrate plots: %w", err)
	}
	return nil
}

// Create inserts a new plot. New plots start active, at version 1, in
// DISPONIBLE unless a state is given.
func (s *PlotStore) Create(p *PlotRecord) error {
	if p.State == "" {
		p.State = StateDisponible
	}
	p.Version = 1
	p.Active = true
	if p.StateChangedAt.IsZero() {
		p.StateChangedAt = time.Now().UTC()
	}
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	return nil
}

// Get returns an active plot by id, or nil if it does not exist.
func (s *PlotStore) Get(id string) (*PlotRecord, error) {
	return getPlot(s.db, id)
}

func getPlot(db *gorm.DB, id string) (*PlotRecord, error) {
	var p PlotRecord
	if err := db.Where("id = ? AND active = ?", id, true).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plot: %w", err)
	}
	return &p, nil
}

// PlotFilter narrows plot listings. Empty fields are ignored.
type PlotFilter struct {
	CompanyID string
	FieldID   string
	States    []State
}

// List returns active plots matching the filter, ordered by name.
func (s *PlotStore) List(filter PlotFilter) ([]PlotRecord, error) {
	q := s.db.Model(&PlotRecord{}).Where("active = ?", true)
	if filter.CompanyID != "" {
		q = q.Where("company_id = ?", filter.CompanyID)
	}
	if filter.FieldID != "" {
		q = q.Where("field_id = ?", filter.FieldID)
	}
	if len(filter.States) > 0 {
		q = q.Where("state IN ?", filter.States)
	}
	var out []PlotRecord
	if err := q.Order("name ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list plots: %w", err)
	}
	return out, nil
}

// CountByState returns the number of active plots per state for a company.
func (s *PlotStore) CountByState(companyID string) (map[State]int64, error) {
	var rows []struct {
		State State
		Count int64
	}
	err := s.db.Model(&PlotRecord{}).
		Select("state, COUNT(*) AS count").
		Where("company_id = ? AND active = ?", companyID, true).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count plots by state: %w", err)
	}
	counts := make(map[State]int64, len(AllStates))
	for _, st := range AllStates {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// SoftDelete marks a plot inactive. Returns false when no active plot matched.
func (s *PlotStore) SoftDelete(companyID, id string) (bool, error) {
	res := s.db.Model(&PlotRecord{}).
		Where("id = ? AND company_id = ? AND active = ?", id, companyID, true).
		Update("active", false)
	if res.Error != nil {
		return false, fmt.Errorf("delete plot: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// stateChange describes a transition write. Fields are extra columns set
// together with the state (crop and dates on sowing, cleared on release).
type stateChange struct {
	Actor  string
	Reason string
	At     time.Time
	Fields map[string]any
}

// applyTransition moves plot to target with a conditional update on the
// snapshot's version and state. Zero affected rows means another writer got
// there first and is reported as StaleProposal. On success plot is updated
// in place.
func applyTransition(tx *gorm.DB, plot *PlotRecord, target State, change stateChange) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	updates := map[string]any{
		"state":            target,
		"version":          gorm.Expr("version + 1"),
		"state_changed_at": change.At,
		"state_changed_by": change.Actor,
		"state_reason":     change.Reason,
	}
	for k, v := range change.Fields {
		updates[k] = v
	}

	res := tx.Model(&PlotRecord{}).
		Where("id = ? AND version = ? AND state = ? AND active = ?", plot.ID, plot.Version, plot.State, true).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("apply transition: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return staleProposal(plot.ID, plot.State, target,
			fmt.Sprintf("plot %s changed since version %d, propose again", plot.ID, plot.Version))
	}

	fresh, err := getPlot(tx, plot.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return plotNotFound(plot.ID)
	}
	*plot = *fresh
	return nil
}

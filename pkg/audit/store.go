package audit

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AuditStore provides append-only operations for audit event records.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new AuditStore. Pass a transaction handle to make
// appends part of that transaction.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *AuditStore) AutoMigrate() error {
	return s.db.AutoMigrate(&AuditEventRecord{})
}

// Append creates a new immutable audit event record.
func (s *AuditStore) Append(event *AuditEventRecord) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetByID returns one event of the company, or nil if not found.
func (s *AuditStore) GetByID(companyID, id string) (*AuditEventRecord, error) {
	var rec AuditEventRecord
	err := s.db.Where("company_id = ? AND id = ?", companyID, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &rec, nil
}

// ListFilter narrows ListFiltered. CompanyID is required; empty fields are ignored.
type ListFilter struct {
	CompanyID string
	Actor     string
	EventType string
	PlotID    string
	Action    string
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("company_id = ?", f.CompanyID)
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.PlotID != "" {
		q = q.Where("plot_id = ?", f.PlotID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	return q
}

// ListFiltered returns paginated events ordered by created_at DESC (newest
// first). pageToken is an RFC3339 timestamp; events with created_at <
// pageToken are returned.
func (s *AuditStore) ListFiltered(filter ListFilter, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalSize int64
	if err := filter.apply(s.db.Model(&AuditEventRecord{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := filter.apply(s.db.Model(&AuditEventRecord{})).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []AuditEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ListByPlot returns the domain events of a plot, newest first.
func (s *AuditStore) ListByPlot(companyID, plotID string, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	return s.ListFiltered(ListFilter{CompanyID: companyID, PlotID: plotID}, pageSize, pageToken)
}

// DeleteOlderThan deletes audit events created before the given cutoff time.
// Returns the number of deleted records.
func (s *AuditStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&AuditEventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

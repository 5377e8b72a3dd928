package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the plots server.
const (
	EventTypeStateChanged   = "plot.state.changed"
	EventTypeReleased       = "plot.released"
	EventTypeForcedRelease  = "plot.released.forced"
	EventTypeHarvestDeleted = "plot.harvest.deleted"
	EventTypePlotCreated    = "plot.created"
	EventTypePlotDeleted    = "plot.deleted"
	EventTypeRequest        = "request"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("JSONStringSlice: %w", err)
	}
	return json.Unmarshal(b, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("JSONAny: %w", err)
	}
	return json.Unmarshal(b, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// AuditEventRecord is an immutable audit log entry. Domain events (state
// changes, releases, harvest deletions) carry PlotID and the from/to states;
// request events carry the HTTP metadata.
type AuditEventRecord struct {
	ID            string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	CompanyID     string          `gorm:"column:company_id;index:idx_audit_company_time,priority:1;default:default;not null"`
	CorrelationID string          `gorm:"column:correlation_id;index"`
	EventType     string          `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null"`
	Actor         string          `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	PlotID        string          `gorm:"column:plot_id;index:idx_audit_plot_time,priority:1"`
	FromState     string          `gorm:"column:from_state"`
	ToState       string          `gorm:"column:to_state"`
	Action        string          `gorm:"column:action"`
	Outcome       string          `gorm:"column:outcome;not null"`
	Reason        string          `gorm:"column:reason"`
	OldValue      JSONAny         `gorm:"column:old_value;type:text"`
	NewValue      JSONAny         `gorm:"column:new_value;type:text"`
	EventMetadata JSONAny         `gorm:"column:metadata;type:text"`
	RequestID     string          `gorm:"column:request_id;index"`
	ResourceType  string          `gorm:"column:resource_type"`
	ResourceIDs   JSONStringSlice `gorm:"column:resource_ids;type:text"`
	StatusCode    int             `gorm:"column:status_code"`
	CreatedAt     time.Time       `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_plot_time,priority:2;index:idx_audit_company_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "audit_events" }

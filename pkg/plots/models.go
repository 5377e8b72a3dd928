package plots

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State is a plot lifecycle stage.
type State string

const (
	StateDisponible       State = "DISPONIBLE"
	StatePreparado        State = "PREPARADO"
	StateSembrado         State = "SEMBRADO"
	StateEnCrecimiento    State = "EN_CRECIMIENTO"
	StateEnfermo          State = "ENFERMO"
	StateListoParaCosecha State = "LISTO_PARA_COSECHA"
	StateCosechado        State = "COSECHADO"
	StateAbandonado       State = "ABANDONADO"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateDisponible,
	StatePreparado,
	StateSembrado,
	StateEnCrecimiento,
	StateEnfermo,
	StateListoParaCosecha,
	StateCosechado,
	StateAbandonado,
}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, error) {
	candidate := State(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStates {
		if st == candidate {
			return st, nil
		}
	}
	return "", invalidRequest("", fmt.Sprintf("unknown state %q", s))
}

// Soil conditions recorded on a harvest.
const (
	SoilDescansando = "DESCANSANDO"
	SoilAgotado     = "AGOTADO"
)

// Proposal kinds.
const (
	ProposalTransition = "transition"
	ProposalSowing     = "sowing"
	ProposalHarvest    = "harvest"
)

// PlotRecord is the persisted plot. State and Version are only written by
// applyTransition.
type PlotRecord struct {
	ID                  string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	CompanyID           string          `gorm:"column:company_id;index:idx_plots_company_state,priority:1;not null" json:"companyId"`
	FieldID             string          `gorm:"column:field_id;index" json:"fieldId,omitempty"`
	Name                string          `gorm:"column:name;not null" json:"name"`
	AreaHectares        decimal.Decimal `gorm:"column:area_hectares;type:decimal(12,4);not null" json:"areaHectares"`
	State               State           `gorm:"column:state;type:varchar(32);index:idx_plots_company_state,priority:2;not null" json:"state"`
	Version             int64           `gorm:"column:version;not null;default:1" json:"version"`
	Active              bool            `gorm:"column:active;not null;default:true" json:"active"`
	ResponsibleUser     string          `gorm:"column:responsible_user" json:"responsibleUser,omitempty"`
	CropID              *string         `gorm:"column:crop_id" json:"cropId,omitempty"`
	SowingDate          *time.Time      `gorm:"column:sowing_date" json:"sowingDate,omitempty"`
	ExpectedHarvestDate *time.Time      `gorm:"column:expected_harvest_date" json:"expectedHarvestDate,omitempty"`
	StateChangedAt      time.Time       `gorm:"column:state_changed_at" json:"stateChangedAt"`
	StateChangedBy      string          `gorm:"column:state_changed_by" json:"stateChangedBy,omitempty"`
	StateReason         string          `gorm:"column:state_reason" json:"stateReason,omitempty"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (PlotRecord) TableName() string { return "plots" }

// HarvestRecord is a harvest ledger entry. Only the release annotation
// (ReleasedAt, ReleasedBy, ForcedReleaseJustification) changes after insert.
type HarvestRecord struct {
	ID                         string           `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	EventID                    string           `gorm:"column:event_id;uniqueIndex;not null" json:"eventId"`
	PlotID                     string           `gorm:"column:plot_id;index:idx_harvest_plot_date,priority:1;not null" json:"plotId"`
	CompanyID                  string           `gorm:"column:company_id;index;not null" json:"companyId"`
	CropID                     string           `gorm:"column:crop_id;index" json:"cropId"`
	SowingDate                 *time.Time       `gorm:"column:sowing_date" json:"sowingDate,omitempty"`
	HarvestDate                time.Time        `gorm:"column:harvest_date;index:idx_harvest_plot_date,priority:2;not null" json:"harvestDate"`
	Quantity                   decimal.Decimal  `gorm:"column:quantity;type:decimal(14,4);not null" json:"quantity"`
	QuantityUnit               string           `gorm:"column:quantity_unit;not null" json:"quantityUnit"`
	AreaHectares               decimal.Decimal  `gorm:"column:area_hectares;type:decimal(12,4);not null" json:"areaHectares"`
	ProjectedYield             decimal.Decimal  `gorm:"column:projected_yield;type:decimal(12,4)" json:"projectedYield"`
	ActualYield                decimal.Decimal  `gorm:"column:actual_yield;type:decimal(12,4)" json:"actualYield"`
	YieldUnit                  string           `gorm:"column:yield_unit;not null" json:"yieldUnit"`
	PercentDifference          *decimal.Decimal `gorm:"column:percent_difference;type:decimal(10,2)" json:"percentDifference,omitempty"`
	SoilCondition              string           `gorm:"column:soil_condition" json:"soilCondition"`
	RequiresRest               bool             `gorm:"column:requires_rest" json:"requiresRest"`
	RecommendedRestDays        int              `gorm:"column:recommended_rest_days" json:"recommendedRestDays"`
	ForcedReleaseJustification *string          `gorm:"column:forced_release_justification" json:"forcedReleaseJustification,omitempty"`
	ReleasedAt                 *time.Time       `gorm:"column:released_at" json:"releasedAt,omitempty"`
	ReleasedBy                 string           `gorm:"column:released_by" json:"releasedBy,omitempty"`
	Observations               string           `gorm:"column:observations" json:"observations,omitempty"`
	RecordedBy                 string           `gorm:"column:recorded_by" json:"recordedBy"`
	CreatedAt                  time.Time        `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (HarvestRecord) TableName() string { return "harvest_records" }

// CropRecord holds per-crop defaults used by the ledger.
type CropRecord struct {
	ID             string          `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	Name           string          `gorm:"column:name;not null" json:"name"`
	ProjectedYield decimal.Decimal `gorm:"column:projected_yield;type:decimal(12,4)" json:"projectedYield"`
	YieldUnit      string          `gorm:"column:yield_unit" json:"yieldUnit"`
	RestDays       int             `gorm:"column:rest_days" json:"restDays"`
	CycleDays      int             `gorm:"column:cycle_days" json:"cycleDays"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (CropRecord) TableName() string { return "crops" }

// SowingInput is the payload of a sowing proposal.
type SowingInput struct {
	CropID     string     `json:"cropId"`
	SowingDate *time.Time `json:"sowingDate,omitempty"`
}

// HarvestInput carries the data needed to append a harvest record.
// ProjectedYield and RestDays override the crop defaults when set.
type HarvestInput struct {
	CropID         string           `json:"cropId"`
	Date           *time.Time       `json:"date,omitempty"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
	Unit           string           `json:"unit"`
	Area           *decimal.Decimal `json:"area,omitempty"`
	ProjectedYield *decimal.Decimal `json:"projectedYield,omitempty"`
	YieldUnit      string           `json:"yieldUnit,omitempty"`
	RestDays       *int             `json:"restDays,omitempty"`
	SoilCondition  string           `json:"soilCondition,omitempty"`
	Observations   string           `json:"observations,omitempty"`
}

// Proposal is a single-use token for a pending transition.
type Proposal struct {
	ID            string        `json:"proposalId"`
	PlotID        string        `json:"plotId"`
	CompanyID     string        `json:"companyId"`
	Kind          string        `json:"kind"`
	CurrentState  State         `json:"currentState"`
	PlotVersion   int64         `json:"plotVersion"`
	ProposedState State         `json:"proposedState"`
	Reason        string        `json:"reason,omitempty"`
	Proposer      string        `json:"proposer"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	Sowing        *SowingInput  `json:"sowing,omitempty"`
	Harvest       *HarvestInput `json:"harvest,omitempty"`
}

// Expired reports whether the proposal is past its expiry at now.
func (p *Proposal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

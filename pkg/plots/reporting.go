package plots

import (
	"context"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrogestion/plots/pkg/yield"
)

// DefaultRecentHarvestDays is the window of RecentHarvests when none is given.
const DefaultRecentHarvestDays = 30

// Attention reasons.
const (
	AttentionDiseased       = "ENFERMO"
	AttentionAbandoned      = "ABANDONADO"
	AttentionHarvestOverdue = "HARVEST_OVERDUE"
)

// attentionStates are the states that can put a plot on the attention list.
var attentionStates = mapset.NewSet(StateEnfermo, StateAbandonado, StateListoParaCosecha)

// Reporter builds read-only projections of plots and harvests. Results are
// point-in-time snapshots.
type Reporter struct {
	db  *gorm.DB
	cfg *Config
}

// NewReporter creates a Reporter.
func NewReporter(db *gorm.DB, cfg *Config) *Reporter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Reporter{db: db, cfg: cfg}
}

// StateSummary counts a company's active plots per state.
type StateSummary struct {
	CompanyID   string          `json:"companyId"`
	Total       int64           `json:"total"`
	ByState     map[State]int64 `json:"byState"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// Summary returns the state summary of a company. Every state is present.
func (r *Reporter) Summary(ctx context.Context, companyID string, now time.Time) (*StateSummary, error) {
	counts, err := NewPlotStore(r.db.WithContext(ctx)).CountByState(companyID)
	if err != nil {
		return nil, err
	}
	s := &StateSummary{CompanyID: companyID, ByState: counts, GeneratedAt: now.UTC()}
	for _, n := range counts {
		s.Total += n
	}
	return s, nil
}

// ListPlots returns a company's active plots, optionally limited to states.
func (r *Reporter) ListPlots(ctx context.Context, companyID string, states ...State) ([]PlotRecord, error) {
	return NewPlotStore(r.db.WithContext(ctx)).List(PlotFilter{CompanyID: companyID, States: states})
}

// FindPlots returns the active plots matching filter.
func (r *Reporter) FindPlots(ctx context.Context, filter PlotFilter) ([]PlotRecord, error) {
	return NewPlotStore(r.db.WithContext(ctx)).List(filter)
}

// RecentHarvests returns a company's harvests dated within the last days
// days, most recent first.
func (r *Reporter) RecentHarvests(ctx context.Context, companyID string, now time.Time, days int) ([]HarvestRecord, error) {
	if days <= 0 {
		days = DefaultRecentHarvestDays
	}
	since := now.UTC().AddDate(0, 0, -days)
	return NewHarvestStore(r.db.WithContext(ctx)).ListByCompanySince(companyID, since)
}

// Harvest returns one of a company's harvests by id.
func (r *Reporter) Harvest(ctx context.Context, companyID, harvestID string) (*HarvestRecord, error) {
	rec, err := NewHarvestStore(r.db.WithContext(ctx)).GetInCompany(companyID, harvestID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, harvestNotFound("", harvestID)
	}
	return rec, nil
}

// ReadyForSowing returns plots that can be sown.
func (r *Reporter) ReadyForSowing(ctx context.Context, companyID string) ([]PlotRecord, error) {
	return r.ListPlots(ctx, companyID, StateDisponible, StatePreparado)
}

// ReadyForHarvest returns plots that can be harvested.
func (r *Reporter) ReadyForHarvest(ctx context.Context, companyID string) ([]PlotRecord, error) {
	return r.ListPlots(ctx, companyID, StateListoParaCosecha)
}

// AttentionItem is a plot that needs attention and why.
type AttentionItem struct {
	Plot   PlotRecord `json:"plot"`
	Reason string     `json:"reason"`
	Since  time.Time  `json:"since"`
}

// Attention lists diseased and abandoned plots, and plots ready for harvest
// whose expected harvest date has passed or that have been waiting longer
// than HarvestOverdueDays.
func (r *Reporter) Attention(ctx context.Context, companyID string, now time.Time) ([]AttentionItem, error) {
	plots, err := r.ListPlots(ctx, companyID, attentionStates.ToSlice()...)
	if err != nil {
		return nil, err
	}
	overdueAfter := time.Duration(r.cfg.HarvestOverdueDays) * 24 * time.Hour

	items := []AttentionItem{}
	for _, p := range plots {
		switch p.State {
		case StateEnfermo:
			items = append(items, AttentionItem{Plot: p, Reason: AttentionDiseased, Since: p.StateChangedAt})
		case StateAbandonado:
			items = append(items, AttentionItem{Plot: p, Reason: AttentionAbandoned, Since: p.StateChangedAt})
		case StateListoParaCosecha:
			if p.ExpectedHarvestDate != nil && p.ExpectedHarvestDate.Before(now) {
				items = append(items, AttentionItem{Plot: p, Reason: AttentionHarvestOverdue, Since: *p.ExpectedHarvestDate})
				continue
			}
			if !now.Before(p.StateChangedAt.Add(overdueAfter)) {
				items = append(items, AttentionItem{Plot: p, Reason: AttentionHarvestOverdue, Since: p.StateChangedAt})
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Since.Before(items[j].Since) })
	return items, nil
}

// CropYield compares average projected and actual yield for one crop.
type CropYield struct {
	CropID            string           `json:"cropId"`
	CropName          string           `json:"cropName,omitempty"`
	YieldUnit         string           `json:"yieldUnit"`
	Harvests          int              `json:"harvests"`
	AvgProjected      decimal.Decimal  `json:"avgProjectedYield"`
	AvgActual         decimal.Decimal  `json:"avgActualYield"`
	PercentDifference *decimal.Decimal `json:"percentDifference,omitempty"`
}

// CropYields averages a company's harvests per crop and yield unit.
func (r *Reporter) CropYields(ctx context.Context, companyID string) ([]CropYield, error) {
	harvests, err := NewHarvestStore(r.db.WithContext(ctx)).ListByCompany(companyID)
	if err != nil {
		return nil, err
	}
	crops, err := NewCropStore(r.db.WithContext(ctx)).List()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(crops))
	for _, c := range crops {
		names[c.ID] = c.Name
	}
	return aggregateCropYields(harvests, names), nil
}

func aggregateCropYields(harvests []HarvestRecord, names map[string]string) []CropYield {
	type key struct{ crop, unit string }
	type acc struct {
		n                 int
		projected, actual decimal.Decimal
	}
	groups := map[key]*acc{}
	for _, h := range harvests {
		k := key{h.CropID, h.YieldUnit}
		a, ok := groups[k]
		if !ok {
			a = &acc{}
			groups[k] = a
		}
		a.n++
		a.projected = a.projected.Add(h.ProjectedYield)
		a.actual = a.actual.Add(h.ActualYield)
	}

	out := make([]CropYield, 0, len(groups))
	for k, a := range groups {
		n := decimal.NewFromInt(int64(a.n))
		cy := CropYield{
			CropID:       k.crop,
			CropName:     names[k.crop],
			YieldUnit:    k.unit,
			Harvests:     a.n,
			AvgProjected: a.projected.Div(n).Round(yield.Precision),
			AvgActual:    a.actual.Div(n).Round(yield.Precision),
		}
		if pd, err := yield.PercentDifference(cy.AvgProjected, cy.AvgActual); err == nil {
			cy.PercentDifference = &pd
		}
		out = append(out, cy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CropID != out[j].CropID {
			return out[i].CropID < out[j].CropID
		}
		return out[i].YieldUnit < out[j].YieldUnit
	})
	return out
}

// PlotYield is the projected-vs-actual view of one plot.
type PlotYield struct {
	PlotID   string            `json:"plotId"`
	PlotName string            `json:"plotName"`
	Latest   *yield.Comparison `json:"latest,omitempty"`
	History  []HarvestRecord   `json:"history"`
}

// PlotYield returns the latest comparison and the harvest history of a plot,
// most recent first.
func (r *Reporter) PlotYield(ctx context.Context, companyID, plotID string) (*PlotYield, error) {
	plot, err := getPlot(r.db.WithContext(ctx), plotID)
	if err != nil {
		return nil, err
	}
	if plot == nil || plot.CompanyID != companyID {
		return nil, plotNotFound(plotID)
	}
	history, err := NewHarvestStore(r.db.WithContext(ctx)).ListByPlot(plotID)
	if err != nil {
		return nil, err
	}
	py := &PlotYield{PlotID: plot.ID, PlotName: plot.Name, History: history}
	if len(history) > 0 {
		h := history[0]
		cmp := yield.Compare(h.ProjectedYield, h.ActualYield, h.YieldUnit)
		py.Latest = &cmp
	}
	if py.History == nil {
		py.History = []HarvestRecord{}
	}
	return py, nil
}

package plots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrogestion/plots/pkg/audit"
	"github.com/agrogestion/plots/pkg/yield"
)

// Options wires the lifecycle services.
type Options struct {
	DB        *gorm.DB
	Machine   *StateMachine
	Proposals ProposalStore
	Access    Access
	Config    *Config
	Logger    *slog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// OnChange is called after every committed change to a company's plots.
	OnChange func(companyID string)
}

// core holds what the coordinator and the ledger share.
type core struct {
	db        *gorm.DB
	machine   *StateMachine
	proposals ProposalStore
	access    Access
	cfg       *Config
	logger    *slog.Logger
	now       func() time.Time
	onChange  func(companyID string)
}

func newCore(opts Options) core {
	c := core{
		db:        opts.DB,
		machine:   opts.Machine,
		proposals: opts.Proposals,
		access:    opts.Access,
		cfg:       opts.Config,
		logger:    opts.Logger,
		now:       opts.Now,
		onChange:  opts.OnChange,
	}
	if c.machine == nil {
		c.machine = NewStateMachine()
	}
	if c.cfg == nil {
		c.cfg = DefaultConfig()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.proposals == nil {
		c.proposals = NewMemoryProposalStore(c.cfg.ProposalTTL).WithClock(c.now)
	}
	if c.access == nil {
		c.access = NewRoleAccess(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *core) clock() time.Time { return c.now().UTC() }

// loadPlot reads an active plot and checks the actor may perform action on it.
func (c *core) loadPlot(ctx context.Context, db *gorm.DB, actor Actor, plotID string, action Action) (*PlotRecord, error) {
	plot, err := getPlot(db.WithContext(ctx), plotID)
	if err != nil {
		return nil, err
	}
	if plot == nil {
		return nil, plotNotFound(plotID)
	}
	if err := c.access.CanActOnPlot(ctx, actor, plot, action); err != nil {
		return nil, err
	}
	return plot, nil
}

func (c *core) changed(companyID string) {
	if c.onChange != nil {
		c.onChange(companyID)
	}
}

// dropProposal discards the plot's open proposal after a committed change.
// Failures only leave a proposal that can no longer be confirmed.
func (c *core) dropProposal(ctx context.Context, plotID, proposalID string) {
	if err := c.proposals.Delete(ctx, plotID, proposalID); err != nil {
		c.logger.Warn("failed to discard proposal", "plotId", plotID, "error", err)
	}
}

func appendPlotEvent(tx *gorm.DB, eventType, action string, actor Actor, plot *PlotRecord, from, to State, reason string, meta map[string]any) error {
	return audit.NewAuditStore(tx).Append(&audit.AuditEventRecord{
		ID:            uuid.New().String(),
		CompanyID:     plot.CompanyID,
		EventType:     eventType,
		Actor:         actor.User,
		PlotID:        plot.ID,
		FromState:     string(from),
		ToState:       string(to),
		Action:        action,
		Outcome:       audit.OutcomeSuccess,
		Reason:        reason,
		EventMetadata: audit.JSONAny(meta),
	})
}

// Ledger is the harvest history of plots and the rest-period gate on their
// release.
type Ledger struct {
	core
}

// NewLedger creates a Ledger.
func NewLedger(opts Options) *Ledger {
	return &Ledger{core: newCore(opts)}
}

// prepare validates a harvest input against plot and builds the record
// without writing anything.
func (l *Ledger) prepare(db *gorm.DB, plot *PlotRecord, in *HarvestInput, actor Actor) (*HarvestRecord, error) {
	if in == nil || in.Quantity == nil {
		return nil, invalidQuantity(plot.ID, "harvest quantity is required")
	}
	now := l.clock()

	date := now
	if in.Date != nil {
		date = in.Date.UTC()
	}
	if date.After(now) {
		return nil, invalidRequest(plot.ID, "harvest date cannot be in the future")
	}

	area := plot.AreaHectares
	if in.Area != nil {
		area = *in.Area
	}

	cropID := strings.ToLower(strings.TrimSpace(in.CropID))
	if cropID == "" && plot.CropID != nil {
		cropID = *plot.CropID
	}
	crop, err := getCrop(db, cropID)
	if err != nil {
		return nil, err
	}

	yieldUnit := in.YieldUnit
	if yieldUnit == "" && crop != nil {
		yieldUnit = crop.YieldUnit
	}
	if yieldUnit == "" {
		yieldUnit = l.cfg.DefaultYieldUnit
	}
	yieldUnit, _, err = yield.NormalizeYieldUnit(yieldUnit)
	if err != nil {
		return nil, fromYieldError(plot.ID, err)
	}
	unit, err := yield.NormalizeUnit(in.Unit)
	if err != nil {
		return nil, fromYieldError(plot.ID, err)
	}

	actual, err := yield.ActualYield(*in.Quantity, unit, area, yieldUnit)
	if err != nil {
		return nil, fromYieldError(plot.ID, err)
	}

	projected := decimal.Zero
	switch {
	case in.ProjectedYield != nil:
		if in.ProjectedYield.IsNegative() {
			return nil, invalidQuantity(plot.ID, "projected yield cannot be negative")
		}
		projected = *in.ProjectedYield
	case crop != nil:
		projected = crop.ProjectedYield
	}

	rec := &HarvestRecord{
		ID:             uuid.New().String(),
		PlotID:         plot.ID,
		CompanyID:      plot.CompanyID,
		CropID:         cropID,
		SowingDate:     plot.SowingDate,
		HarvestDate:    date,
		Quantity:       *in.Quantity,
		QuantityUnit:   unit,
		AreaHectares:   area,
		ProjectedYield: projected,
		ActualYield:    actual,
		YieldUnit:      yieldUnit,
		RequiresRest:   true,
		Observations:   in.Observations,
		RecordedBy:     actor.User,
	}
	if pd, err := yield.PercentDifference(projected, actual); err == nil {
		rec.PercentDifference = &pd
	}

	switch {
	case in.RestDays != nil:
		if *in.RestDays < 0 {
			return nil, invalidRequest(plot.ID, "rest days cannot be negative")
		}
		rec.RecommendedRestDays = *in.RestDays
	case crop != nil && crop.RestDays > 0:
		rec.RecommendedRestDays = crop.RestDays
	default:
		rec.RecommendedRestDays = l.cfg.DefaultRestDays
	}

	switch {
	case strings.TrimSpace(in.SoilCondition) != "":
		rec.SoilCondition = strings.ToUpper(strings.TrimSpace(in.SoilCondition))
	case projected.IsPositive() && actual.LessThan(projected.Mul(decimal.NewFromFloat(l.cfg.DepletedThreshold))):
		rec.SoilCondition = SoilAgotado
	default:
		rec.SoilCondition = SoilDescansando
	}
	return rec, nil
}

// checkPartial validates the fields of a harvest input that has no quantity
// yet. The rest is checked by prepare once the quantity arrives.
func (l *Ledger) checkPartial(plotID string, in *HarvestInput) error {
	if in.Unit != "" {
		if _, err := yield.NormalizeUnit(in.Unit); err != nil {
			return fromYieldError(plotID, err)
		}
	}
	if in.YieldUnit != "" {
		if _, _, err := yield.NormalizeYieldUnit(in.YieldUnit); err != nil {
			return fromYieldError(plotID, err)
		}
	}
	if in.Date != nil && in.Date.After(l.clock()) {
		return invalidRequest(plotID, "harvest date cannot be in the future")
	}
	if in.Area != nil && !in.Area.IsPositive() {
		return invalidQuantity(plotID, "harvest area must be positive")
	}
	if in.ProjectedYield != nil && in.ProjectedYield.IsNegative() {
		return invalidQuantity(plotID, "projected yield cannot be negative")
	}
	if in.RestDays != nil && *in.RestDays < 0 {
		return invalidRequest(plotID, "rest days cannot be negative")
	}
	return nil
}

// ReleaseStatus describes whether a plot may be released.
type ReleaseStatus struct {
	PlotID                 string     `json:"plotId"`
	CanRelease             bool       `json:"canRelease"`
	LastHarvestDate        *time.Time `json:"lastHarvestDate,omitempty"`
	EarliestRelease        *time.Time `json:"earliestRelease,omitempty"`
	RecommendedRestDays    int        `json:"recommendedRestDays"`
	RecommendedReleaseDate *time.Time `json:"recommendedReleaseDate,omitempty"`
	DaysSinceHarvest       *int       `json:"daysSinceHarvest,omitempty"`
}

func (l *Ledger) minRest() time.Duration {
	return time.Duration(l.cfg.MinRestDays) * 24 * time.Hour
}

func (l *Ledger) releaseStatus(latest *HarvestRecord, plotID string, now time.Time) ReleaseStatus {
	st := ReleaseStatus{PlotID: plotID, CanRelease: true, RecommendedRestDays: l.cfg.DefaultRestDays}
	if latest == nil {
		return st
	}
	harvested := latest.HarvestDate
	earliest := harvested.Add(l.minRest())
	recommended := harvested.AddDate(0, 0, latest.RecommendedRestDays)
	days := int(now.Sub(harvested).Hours() / 24)
	st.LastHarvestDate = &harvested
	st.EarliestRelease = &earliest
	st.RecommendedRestDays = latest.RecommendedRestDays
	st.RecommendedReleaseDate = &recommended
	st.DaysSinceHarvest = &days
	st.CanRelease = !now.Before(earliest)
	return st
}

// CanRelease reports whether the plot's latest harvest is at least
// MinRestDays before now. Plots without harvests can always be released.
func (l *Ledger) CanRelease(ctx context.Context, actor Actor, plotID string, now time.Time) (bool, error) {
	st, err := l.ReleaseStatus(ctx, actor, plotID, now)
	if err != nil {
		return false, err
	}
	return st.CanRelease, nil
}

// ReleaseStatus returns the release eligibility details of a plot at now.
func (l *Ledger) ReleaseStatus(ctx context.Context, actor Actor, plotID string, now time.Time) (*ReleaseStatus, error) {
	if _, err := l.loadPlot(ctx, l.db, actor, plotID, ActionView); err != nil {
		return nil, err
	}
	latest, err := latestHarvest(l.db, plotID)
	if err != nil {
		return nil, err
	}
	st := l.releaseStatus(latest, plotID, now.UTC())
	return &st, nil
}

// RecommendedRestDays returns the latest harvest's recommended rest, or the
// default when the plot has no history.
func (l *Ledger) RecommendedRestDays(ctx context.Context, actor Actor, plotID string) (int, error) {
	if _, err := l.loadPlot(ctx, l.db, actor, plotID, ActionView); err != nil {
		return 0, err
	}
	latest, err := latestHarvest(l.db, plotID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return l.cfg.DefaultRestDays, nil
	}
	return latest.RecommendedRestDays, nil
}

// History returns the plot's harvests, most recent first.
func (l *Ledger) History(ctx context.Context, actor Actor, plotID string) ([]HarvestRecord, error) {
	if _, err := l.loadPlot(ctx, l.db, actor, plotID, ActionView); err != nil {
		return nil, err
	}
	return NewHarvestStore(l.db).ListByPlot(plotID)
}

// LatestHarvest returns the plot's most recent harvest. A plot that was never
// harvested yields a HarvestNotFound error.
func (l *Ledger) LatestHarvest(ctx context.Context, actor Actor, plotID string) (*HarvestRecord, error) {
	if _, err := l.loadPlot(ctx, l.db, actor, plotID, ActionView); err != nil {
		return nil, err
	}
	latest, err := latestHarvest(l.db.WithContext(ctx), plotID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, harvestNotFound(plotID, "latest")
	}
	return latest, nil
}

// Release moves a harvested plot back to DISPONIBLE once the rest floor has
// passed.
func (l *Ledger) Release(ctx context.Context, actor Actor, plotID string) (*PlotRecord, error) {
	return l.release(ctx, actor, plotID, nil)
}

// ReleaseForced releases a harvested plot regardless of the rest period. The
// justification is stored on the latest harvest.
func (l *Ledger) ReleaseForced(ctx context.Context, actor Actor, plotID, justification string) (*PlotRecord, error) {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return nil, &Error{
			Kind:    KindJustificationRequired,
			PlotID:  plotID,
			From:    StateCosechado,
			To:      StateDisponible,
			Message: "a forced release requires a justification",
		}
	}
	return l.release(ctx, actor, plotID, &justification)
}

func (l *Ledger) release(ctx context.Context, actor Actor, plotID string, justification *string) (*PlotRecord, error) {
	forced := justification != nil
	action, eventType, verb := ActionRelease, audit.EventTypeReleased, "release"
	if forced {
		action, eventType, verb = ActionForceRelease, audit.EventTypeForcedRelease, "release-forced"
	}

	var plot *PlotRecord
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		plot, err = l.loadPlot(ctx, tx, actor, plotID, action)
		if err != nil {
			return err
		}
		from := plot.State
		if from != StateCosechado || !l.machine.IsReleaseOnly(from, StateDisponible) {
			return illegalTransition(plotID, from, StateDisponible,
				fmt.Sprintf("only %s plots can be released, plot is %s", StateCosechado, from))
		}

		latest, err := latestHarvest(tx, plotID)
		if err != nil {
			return err
		}
		now := l.clock()
		st := l.releaseStatus(latest, plotID, now)
		if !forced && !st.CanRelease {
			return &Error{
				Kind:   KindRestPeriodNotElapsed,
				PlotID: plotID,
				From:   from,
				To:     StateDisponible,
				Message: fmt.Sprintf("plot %s was harvested on %s; it can be released from %s",
					plotID, st.LastHarvestDate.Format(time.DateOnly), st.EarliestRelease.Format(time.RFC3339)),
			}
		}

		reason := "released after rest period"
		if forced {
			reason = *justification
		}
		change := stateChange{
			Actor:  actor.User,
			Reason: reason,
			At:     now,
			Fields: map[string]any{
				"crop_id":               nil,
				"sowing_date":           nil,
				"expected_harvest_date": nil,
			},
		}
		if err := applyTransition(tx, plot, StateDisponible, change); err != nil {
			return err
		}

		meta := map[string]any{"restPeriodElapsed": st.CanRelease}
		if latest != nil {
			if err := annotateRelease(tx, latest.ID, now, actor.User, justification); err != nil {
				return err
			}
			meta["harvestId"] = latest.ID
		}
		return appendPlotEvent(tx, eventType, verb, actor, plot, from, StateDisponible, reason, meta)
	})
	if err != nil {
		return nil, err
	}

	if forced {
		l.logger.Warn("plot released before rest period", "plotId", plotID, "actor", actor.User, "justification", *justification)
	} else {
		l.logger.Info("plot released", "plotId", plotID, "actor", actor.User)
	}
	l.dropProposal(ctx, plotID, "")
	l.changed(plot.CompanyID)
	return plot, nil
}

// DeleteHarvest removes a harvest record. Only administrators hold the
// permission; the deleted record is kept in the audit log.
func (l *Ledger) DeleteHarvest(ctx context.Context, actor Actor, plotID, harvestID string) error {
	var companyID string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plot, err := l.loadPlot(ctx, tx, actor, plotID, ActionDeleteHarvest)
		if err != nil {
			return err
		}
		companyID = plot.CompanyID
		store := NewHarvestStore(tx)
		rec, err := store.Get(plotID, harvestID)
		if err != nil {
			return err
		}
		if rec == nil {
			return harvestNotFound(plotID, harvestID)
		}
		if _, err := store.Delete(plotID, harvestID); err != nil {
			return err
		}
		return audit.NewAuditStore(tx).Append(&audit.AuditEventRecord{
			ID:           uuid.New().String(),
			CompanyID:    plot.CompanyID,
			EventType:    audit.EventTypeHarvestDeleted,
			Actor:        actor.User,
			PlotID:       plotID,
			Action:       "delete",
			Outcome:      audit.OutcomeSuccess,
			OldValue:     harvestSnapshot(rec),
			ResourceType: "harvest",
			ResourceIDs:  audit.JSONStringSlice{harvestID},
		})
	})
	if err != nil {
		return err
	}
	l.logger.Info("harvest record deleted", "plotId", plotID, "harvestId", harvestID, "actor", actor.User)
	l.changed(companyID)
	return nil
}

func harvestSnapshot(rec *HarvestRecord) audit.JSONAny {
	return audit.JSONAny{
		"id":             rec.ID,
		"cropId":         rec.CropID,
		"harvestDate":    rec.HarvestDate.Format(time.RFC3339),
		"quantity":       rec.Quantity.String(),
		"quantityUnit":   rec.QuantityUnit,
		"areaHectares":   rec.AreaHectares.String(),
		"actualYield":    rec.ActualYield.String(),
		"projectedYield": rec.ProjectedYield.String(),
		"yieldUnit":      rec.YieldUnit,
	}
}

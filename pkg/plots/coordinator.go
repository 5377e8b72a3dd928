package plots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrogestion/plots/pkg/audit"
	"github.com/agrogestion/plots/pkg/yield"
)

// Coordinator runs the propose/confirm/cancel protocol around state
// transitions, including the transitions implied by sowing and harvest.
type Coordinator struct {
	core
	ledger *Ledger
}

// NewCoordinator creates a Coordinator. ledger may be nil, in which case one
// sharing the coordinator's stores is built.
func NewCoordinator(opts Options, ledger *Ledger) *Coordinator {
	c := newCore(opts)
	if ledger == nil {
		ledger = &Ledger{core: c}
	}
	return &Coordinator{core: c, ledger: ledger}
}

// Ledger returns the harvest ledger used for harvest confirmations.
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// ProposalView is the proposal as returned to callers, with the hints shown
// before confirming.
type ProposalView struct {
	*Proposal
	PlotName             string   `json:"plotName"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	Message              string   `json:"message"`
	AllowedTransitions   []State  `json:"allowedTransitions"`
	Consequences         []string `json:"consequences"`
}

// ConfirmResult is the outcome of a confirmed or implicit transition.
type ConfirmResult struct {
	Plot       *PlotRecord       `json:"plot"`
	Harvest    *HarvestRecord    `json:"harvest,omitempty"`
	Comparison *yield.Comparison `json:"yieldComparison,omitempty"`
}

func (c *Coordinator) view(plot *PlotRecord, p *Proposal) *ProposalView {
	return &ProposalView{
		Proposal:             p,
		PlotName:             plot.Name,
		RequiresConfirmation: true,
		Message: fmt.Sprintf("move plot %s from %s to %s? confirm before %s",
			plot.Name, p.CurrentState, p.ProposedState, p.ExpiresAt.Format(time.RFC3339)),
		AllowedTransitions: c.machine.AllowedTransitions(p.CurrentState),
		Consequences:       Consequences(p.ProposedState),
	}
}

func (c *Coordinator) newProposal(plot *PlotRecord, kind string, target State, reason string, actor Actor) *Proposal {
	now := c.clock()
	p := &Proposal{
		ID:            uuid.New().String(),
		PlotID:        plot.ID,
		CompanyID:     plot.CompanyID,
		Kind:          kind,
		CurrentState:  plot.State,
		PlotVersion:   plot.Version,
		ProposedState: target,
		Reason:        strings.TrimSpace(reason),
		Proposer:      actor.User,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.cfg.ProposalTTL),
	}
	return p
}

func (c *Coordinator) put(ctx context.Context, p *Proposal) error {
	if err := c.proposals.Put(ctx, p); err != nil {
		return fmt.Errorf("store proposal: %w", err)
	}
	c.logger.Info("transition proposed",
		"plotId", p.PlotID, "proposalId", p.ID, "from", p.CurrentState, "to", p.ProposedState, "actor", p.Proposer)
	return nil
}

// Propose validates current -> target for the plot and stores a proposal,
// replacing any open one.
func (c *Coordinator) Propose(ctx context.Context, actor Actor, plotID string, target State, reason string) (*ProposalView, error) {
	plot, err := c.loadPlot(ctx, c.db, actor, plotID, transitionAction(target))
	if err != nil {
		return nil, err
	}
	if err := c.machine.ValidateProposal(plotID, plot.State, target); err != nil {
		return nil, err
	}

	kind := ProposalTransition
	switch target {
	case StateSembrado:
		kind = ProposalSowing
	case StateCosechado:
		kind = ProposalHarvest
	}
	p := c.newProposal(plot, kind, target, reason, actor)
	if err := c.put(ctx, p); err != nil {
		return nil, err
	}
	return c.view(plot, p), nil
}

// ProposeSowing proposes moving a DISPONIBLE or PREPARADO plot to SEMBRADO
// with the crop to be sown.
func (c *Coordinator) ProposeSowing(ctx context.Context, actor Actor, plotID string, in SowingInput, reason string) (*ProposalView, error) {
	plot, err := c.loadPlot(ctx, c.db, actor, plotID, ActionTransition)
	if err != nil {
		return nil, err
	}
	if plot.State != StateDisponible && plot.State != StatePreparado {
		return nil, illegalTransition(plotID, plot.State, StateSembrado,
			fmt.Sprintf("sowing requires %s or %s, plot is %s", StateDisponible, StatePreparado, plot.State))
	}
	if err := c.machine.ValidateProposal(plotID, plot.State, StateSembrado); err != nil {
		return nil, err
	}
	in.CropID = strings.ToLower(strings.TrimSpace(in.CropID))
	if in.CropID == "" {
		return nil, invalidRequest(plotID, "cropId is required for sowing")
	}

	p := c.newProposal(plot, ProposalSowing, StateSembrado, reason, actor)
	p.Sowing = &in
	if err := c.put(ctx, p); err != nil {
		return nil, err
	}
	return c.view(plot, p), nil
}

// ProposeHarvest proposes moving a LISTO_PARA_COSECHA plot to COSECHADO.
// Harvest data may be given now or at confirm time; when given now it is
// validated immediately.
func (c *Coordinator) ProposeHarvest(ctx context.Context, actor Actor, plotID string, in *HarvestInput, reason string) (*ProposalView, error) {
	plot, err := c.loadPlot(ctx, c.db, actor, plotID, ActionRecordHarvest)
	if err != nil {
		return nil, err
	}
	if plot.State != StateListoParaCosecha {
		return nil, illegalTransition(plotID, plot.State, StateCosechado,
			fmt.Sprintf("harvest requires %s, plot is %s", StateListoParaCosecha, plot.State))
	}
	if err := c.machine.ValidateProposal(plotID, plot.State, StateCosechado); err != nil {
		return nil, err
	}
	switch {
	case in == nil:
	case in.Quantity != nil:
		if _, err := c.ledger.prepare(c.db.WithContext(ctx), plot, in, actor); err != nil {
			return nil, err
		}
	default:
		if err := c.ledger.checkPartial(plot.ID, in); err != nil {
			return nil, err
		}
	}

	p := c.newProposal(plot, ProposalHarvest, StateCosechado, reason, actor)
	p.Harvest = in
	if err := c.put(ctx, p); err != nil {
		return nil, err
	}
	return c.view(plot, p), nil
}

// Current returns the plot's open proposal, or nil.
func (c *Coordinator) Current(ctx context.Context, actor Actor, plotID string) (*ProposalView, error) {
	plot, err := c.loadPlot(ctx, c.db, actor, plotID, ActionView)
	if err != nil {
		return nil, err
	}
	p, err := c.proposals.Get(ctx, plotID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p == nil || p.CompanyID != plot.CompanyID || p.Expired(c.clock()) {
		return nil, nil
	}
	return c.view(plot, p), nil
}

// Confirm applies the plot's open proposal if it is still current. The state
// write, the sowing or harvest data and the audit event are committed
// together; a proposal can be confirmed at most once.
func (c *Coordinator) Confirm(ctx context.Context, actor Actor, plotID, proposalID string, harvest *HarvestInput) (*ConfirmResult, error) {
	if strings.TrimSpace(proposalID) == "" {
		return nil, invalidRequest(plotID, "proposalId is required")
	}
	p, err := c.proposals.Get(ctx, plotID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p == nil || p.ID != proposalID || p.CompanyID != actor.CompanyID {
		return nil, staleProposal(plotID, "", "",
			fmt.Sprintf("proposal %s is not open for plot %s, propose again", proposalID, plotID))
	}
	if p.Expired(c.clock()) {
		c.dropProposal(ctx, plotID, p.ID)
		return nil, staleProposal(plotID, p.CurrentState, p.ProposedState,
			fmt.Sprintf("proposal %s expired at %s, propose again", p.ID, p.ExpiresAt.Format(time.RFC3339)))
	}

	action := transitionAction(p.ProposedState)
	if p.ProposedState == StateCosechado {
		action = ActionRecordHarvest
	}

	result := &ConfirmResult{}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plot, err := c.loadPlot(ctx, tx, actor, plotID, action)
		if err != nil {
			return err
		}
		if plot.State != p.CurrentState || plot.Version != p.PlotVersion {
			return staleProposal(plotID, p.CurrentState, p.ProposedState,
				fmt.Sprintf("plot %s is now %s (version %d), proposal was made on %s (version %d)",
					plotID, plot.State, plot.Version, p.CurrentState, p.PlotVersion))
		}
		if err := c.machine.ValidateProposal(plotID, plot.State, p.ProposedState); err != nil {
			return err
		}

		now := c.clock()
		change := stateChange{Actor: actor.User, Reason: p.Reason, At: now}

		var rec *HarvestRecord
		switch p.ProposedState {
		case StateCosechado:
			in := harvest
			if in == nil {
				in = p.Harvest
			}
			rec, err = c.ledger.prepare(tx, plot, in, actor)
			if err != nil {
				return err
			}
			rec.EventID = p.ID
		case StateSembrado:
			change.Fields, err = c.sowingFields(tx, p.Sowing, now)
			if err != nil {
				return err
			}
		}

		from := plot.State
		if err := applyTransition(tx, plot, p.ProposedState, change); err != nil {
			return err
		}
		if rec != nil {
			if err := createHarvest(tx, rec); err != nil {
				return err
			}
			result.Harvest = rec
			cmp := yield.Compare(rec.ProjectedYield, rec.ActualYield, rec.YieldUnit)
			result.Comparison = &cmp
		}
		result.Plot = plot
		return appendPlotEvent(tx, audit.EventTypeStateChanged, "confirm", actor, plot, from, p.ProposedState, p.Reason,
			map[string]any{"proposalId": p.ID, "kind": p.Kind, "proposer": p.Proposer})
	})
	if err != nil {
		return nil, err
	}

	c.dropProposal(ctx, plotID, p.ID)
	c.logger.Info("transition confirmed",
		"plotId", plotID, "proposalId", p.ID, "from", p.CurrentState, "to", p.ProposedState, "actor", actor.User)
	c.changed(result.Plot.CompanyID)
	return result, nil
}

// sowingFields sets the crop and the sowing and expected harvest dates.
func (c *Coordinator) sowingFields(tx *gorm.DB, in *SowingInput, now time.Time) (map[string]any, error) {
	sowed := now
	fields := map[string]any{"sowing_date": sowed, "expected_harvest_date": nil}
	if in == nil {
		return fields, nil
	}
	if in.SowingDate != nil {
		sowed = in.SowingDate.UTC()
		fields["sowing_date"] = sowed
	}
	if in.CropID == "" {
		return fields, nil
	}
	fields["crop_id"] = in.CropID
	crop, err := getCrop(tx, in.CropID)
	if err != nil {
		return nil, err
	}
	if crop != nil && crop.CycleDays > 0 {
		fields["expected_harvest_date"] = sowed.AddDate(0, 0, crop.CycleDays)
	}
	return fields, nil
}

// Cancel discards the plot's open proposal. With an empty proposalID any
// open proposal is discarded. Cancelling an absent proposal succeeds.
func (c *Coordinator) Cancel(ctx context.Context, actor Actor, plotID, proposalID string) error {
	p, err := c.proposals.Get(ctx, plotID)
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	if p == nil || p.CompanyID != actor.CompanyID {
		return nil
	}
	if proposalID != "" && p.ID != proposalID {
		return nil
	}
	if err := c.proposals.Delete(ctx, plotID, p.ID); err != nil {
		return fmt.Errorf("cancel proposal: %w", err)
	}
	c.logger.Info("proposal cancelled", "plotId", plotID, "proposalId", p.ID, "actor", actor.User)
	return nil
}

// RecordHarvest records a harvest on a LISTO_PARA_COSECHA plot and moves it
// to COSECHADO in one transaction. Any open proposal for the plot is dropped.
func (c *Coordinator) RecordHarvest(ctx context.Context, actor Actor, plotID string, in HarvestInput) (*ConfirmResult, error) {
	result := &ConfirmResult{}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plot, err := c.loadPlot(ctx, tx, actor, plotID, ActionRecordHarvest)
		if err != nil {
			return err
		}
		from := plot.State
		if err := c.machine.ValidateProposal(plotID, from, StateCosechado); err != nil {
			return err
		}
		rec, err := c.ledger.prepare(tx, plot, &in, actor)
		if err != nil {
			return err
		}
		rec.EventID = uuid.New().String()

		change := stateChange{Actor: actor.User, Reason: "harvest recorded", At: c.clock()}
		if err := applyTransition(tx, plot, StateCosechado, change); err != nil {
			return err
		}
		if err := createHarvest(tx, rec); err != nil {
			return err
		}
		cmp := yield.Compare(rec.ProjectedYield, rec.ActualYield, rec.YieldUnit)
		result.Plot, result.Harvest, result.Comparison = plot, rec, &cmp
		return appendPlotEvent(tx, audit.EventTypeStateChanged, "record-harvest", actor, plot, from, StateCosechado,
			change.Reason, map[string]any{"harvestId": rec.ID, "eventId": rec.EventID})
	})
	if err != nil {
		return nil, err
	}

	c.dropProposal(ctx, plotID, "")
	c.logger.Info("harvest recorded",
		"plotId", plotID, "harvestId", result.Harvest.ID, "actualYield", result.Harvest.ActualYield.String(), "actor", actor.User)
	c.changed(result.Plot.CompanyID)
	return result, nil
}

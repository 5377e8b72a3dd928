package plots

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrogestion/plots/pkg/audit"
)

// initialStates are the states a plot may be registered in. Later states
// need a sowing or a harvest behind them.
var initialStates = []State{StateDisponible, StatePreparado}

// PlotInput is the data needed to register a plot.
type PlotInput struct {
	Name            string          `json:"name"`
	FieldID         string          `json:"fieldId,omitempty"`
	AreaHectares    decimal.Decimal `json:"areaHectares"`
	ResponsibleUser string          `json:"responsibleUser,omitempty"`
	State           string          `json:"state,omitempty"`
}

// CreatePlot registers a plot in the actor's company.
func (c *Coordinator) CreatePlot(ctx context.Context, actor Actor, in PlotInput) (*PlotRecord, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidRequest("", "plot name is required")
	}
	if !in.AreaHectares.IsPositive() {
		return nil, invalidQuantity("", "plot area must be positive")
	}
	state := StateDisponible
	if in.State != "" {
		st, err := ParseState(in.State)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(initialStates, st) {
			return nil, invalidRequest("", fmt.Sprintf("a new plot must start in one of %v, not %s", initialStates, st))
		}
		state = st
	}

	plot := &PlotRecord{
		ID:              uuid.New().String(),
		CompanyID:       actor.CompanyID,
		FieldID:         strings.TrimSpace(in.FieldID),
		Name:            name,
		AreaHectares:    in.AreaHectares,
		State:           state,
		ResponsibleUser: in.ResponsibleUser,
		StateChangedAt:  c.clock(),
		StateChangedBy:  actor.User,
	}
	if plot.ResponsibleUser == "" {
		plot.ResponsibleUser = actor.User
	}
	if err := c.access.CanActOnPlot(ctx, actor, plot, ActionCreate); err != nil {
		return nil, err
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewPlotStore(tx).Create(plot); err != nil {
			return err
		}
		return appendPlotEvent(tx, audit.EventTypePlotCreated, "create", actor, plot, "", plot.State, "", nil)
	})
	if err != nil {
		return nil, err
	}
	c.changed(plot.CompanyID)
	return plot, nil
}

// GetPlot returns an active plot of the actor's company.
func (c *Coordinator) GetPlot(ctx context.Context, actor Actor, plotID string) (*PlotRecord, error) {
	return c.loadPlot(ctx, c.db, actor, plotID, ActionView)
}

// DeletePlot soft-deletes a plot. Its harvest history is kept.
func (c *Coordinator) DeletePlot(ctx context.Context, actor Actor, plotID string) error {
	plot, err := c.loadPlot(ctx, c.db, actor, plotID, ActionDelete)
	if err != nil {
		return err
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := NewPlotStore(tx).SoftDelete(plot.CompanyID, plotID)
		if err != nil {
			return err
		}
		if !ok {
			return plotNotFound(plotID)
		}
		return appendPlotEvent(tx, audit.EventTypePlotDeleted, "delete", actor, plot, plot.State, "", "", nil)
	})
	if err != nil {
		return err
	}
	c.dropProposal(ctx, plotID, "")
	c.changed(plot.CompanyID)
	return nil
}

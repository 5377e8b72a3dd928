package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var harvestColumns = []column{
	{Header: "ID", Path: "id"},
	{Header: "Date", Path: "harvestDate"},
	{Header: "Crop", Path: "cropId"},
	{Header: "Quantity", Path: "quantity"},
	{Header: "Unit", Path: "quantityUnit"},
	{Header: "Yield", Path: "actualYield"},
	{Header: "Projected", Path: "projectedYield"},
	{Header: "Yield unit", Path: "yieldUnit"},
	{Header: "Diff %", Path: "percentDifference"},
	{Header: "Soil", Path: "soilCondition"},
	{Header: "Rest days", Path: "recommendedRestDays"},
	{Header: "Released", Path: "releasedAt"},
}

var releaseColumns = []column{
	{Header: "Plot", Path: "plotId"},
	{Header: "Can release", Path: "canRelease"},
	{Header: "Last harvest", Path: "lastHarvestDate"},
	{Header: "Days since harvest", Path: "daysSinceHarvest"},
	{Header: "Earliest release", Path: "earliestRelease"},
	{Header: "Recommended rest", Path: "recommendedRestDays"},
	{Header: "Recommended release", Path: "recommendedReleaseDate"},
}

// harvestFlags is the harvest payload shared by record and propose.
type harvestFlags struct {
	CropID         string `json:"cropId,omitempty"`
	Date           string `json:"date,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	Unit           string `json:"unit,omitempty"`
	Area           string `json:"area,omitempty"`
	ProjectedYield string `json:"projectedYield,omitempty"`
	YieldUnit      string `json:"yieldUnit,omitempty"`
	RestDays       *int   `json:"restDays,omitempty"`
	SoilCondition  string `json:"soilCondition,omitempty"`
	Observations   string `json:"observations,omitempty"`
	Reason         string `json:"reason,omitempty"`

	restDays int
}

func (h *harvestFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&h.Quantity, "quantity", "", "Harvested quantity")
	f.StringVar(&h.Unit, "unit", "kg", "Quantity unit: kg, tn or qq")
	f.StringVar(&h.CropID, "crop", "", "Crop id (default: the plot's crop)")
	f.StringVar(&h.Date, "date", "", "Harvest date, YYYY-MM-DD (default: today)")
	f.StringVar(&h.Area, "area", "", "Harvested hectares (default: the plot's area)")
	f.StringVar(&h.ProjectedYield, "projected-yield", "", "Projected yield (default: the crop's)")
	f.StringVar(&h.YieldUnit, "yield-unit", "", "Yield unit: qq/ha, tn/ha or kg/ha")
	f.IntVar(&h.restDays, "rest-days", 0, "Recommended rest days (default: the crop's)")
	f.StringVar(&h.SoilCondition, "soil", "", "Soil condition: OPTIMO, DESCANSANDO or AGOTADO")
	f.StringVar(&h.Observations, "observations", "", "Free-text notes")
	_ = cmd.MarkFlagRequired("quantity")
}

func (h *harvestFlags) payload(cmd *cobra.Command) *harvestFlags {
	if cmd.Flags().Changed("rest-days") {
		h.RestDays = &h.restDays
	}
	return h
}

func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "harvest",
		Aliases: []string{"harvests"},
		Short:   "Record harvests, sowings and releases",
	}

	var rec harvestFlags
	record := &cobra.Command{
		Use:   "record PLOT",
		Short: "Record a harvest; the plot moves to COSECHADO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res map[string]any
			if err := newClient().post(plotPath(args[0], "/harvest"), rec.payload(cmd), &res); err != nil {
				return err
			}
			return printObject(res, confirmColumns)
		},
	}
	rec.register(record)

	var prop harvestFlags
	propose := &cobra.Command{
		Use:   "propose PLOT",
		Short: "Propose a harvest to be confirmed with 'state confirm'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view map[string]any
			if err := newClient().post(plotPath(args[0], "/harvest/propose"), prop.payload(cmd), &view); err != nil {
				return err
			}
			return printObject(view, proposalColumns)
		},
	}
	prop.register(propose)
	propose.Flags().StringVar(&prop.Reason, "reason", "", "Reason recorded with the transition")

	var sow struct {
		CropID     string `json:"cropId"`
		SowingDate string `json:"sowingDate,omitempty"`
		Reason     string `json:"reason,omitempty"`
	}
	sowing := &cobra.Command{
		Use:   "sow PLOT",
		Short: "Propose sowing a crop; confirm with 'state confirm'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view map[string]any
			if err := newClient().post(plotPath(args[0], "/sowing/propose"), sow, &view); err != nil {
				return err
			}
			return printObject(view, proposalColumns)
		},
	}
	sowing.Flags().StringVar(&sow.CropID, "crop", "", "Crop id")
	sowing.Flags().StringVar(&sow.SowingDate, "date", "", "Sowing date, YYYY-MM-DD (default: today)")
	sowing.Flags().StringVar(&sow.Reason, "reason", "", "Reason recorded with the transition")
	_ = sowing.MarkFlagRequired("crop")

	list := &cobra.Command{
		Use:   "list PLOT",
		Short: "Harvest history of a plot, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAndPrint(plotPath(args[0], "/harvests"), harvestColumns)
		},
	}

	del := &cobra.Command{
		Use:   "delete PLOT HARVEST_ID",
		Short: "Delete a harvest record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete(plotPath(args[0], "/harvests/"+args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "harvest %s deleted\n", args[1])
			return nil
		},
	}

	canRelease := &cobra.Command{
		Use:   "can-release PLOT",
		Short: "Check the rest period of a harvested plot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st map[string]any
			if err := newClient().get(plotPath(args[0], "/can-release"), &st); err != nil {
				return err
			}
			return printObject(st, releaseColumns)
		},
	}

	var justification string
	release := &cobra.Command{
		Use:   "release PLOT",
		Short: "Release a harvested plot back to DISPONIBLE",
		Long: `Release a harvested plot back to DISPONIBLE once its minimum rest
period has passed. With --justification the rest period is skipped; forced
releases are recorded in the audit trail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plot map[string]any
			var err error
			if cmd.Flags().Changed("justification") {
				err = newClient().post(plotPath(args[0], "/release-forced"),
					map[string]string{"justification": justification}, &plot)
			} else {
				err = newClient().post(plotPath(args[0], "/release"), nil, &plot)
			}
			if err != nil {
				return err
			}
			return printObject(plot, plotDetailColumns)
		},
	}
	release.Flags().StringVar(&justification, "justification", "", "Force the release before the rest period ends")

	var days int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Harvests of the company in the last days",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/harvests/recent"
			if days > 0 {
				path += "?days=" + strconv.Itoa(days)
			}
			return listAndPrint(path, append([]column{{Header: "Plot", Path: "plotId"}}, harvestColumns...))
		},
	}
	recent.Flags().IntVar(&days, "days", 0, "Window in days (default: 30)")

	get := &cobra.Command{
		Use:   "get HARVEST_ID",
		Short: "Show a harvest record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec map[string]any
			if err := newClient().get("/harvests/"+url.PathEscape(args[0]), &rec); err != nil {
				return err
			}
			return printObject(rec, append([]column{{Header: "Plot", Path: "plotId"}}, harvestColumns...))
		},
	}

	latest := &cobra.Command{
		Use:   "latest PLOT",
		Short: "Most recent harvest of a plot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec map[string]any
			if err := newClient().get(plotPath(args[0], "/harvests/latest"), &rec); err != nil {
				return err
			}
			return printObject(rec, harvestColumns)
		},
	}

	cmd.AddCommand(record, propose, sowing, list, del, canRelease, release, recent, get, latest)
	return cmd
}

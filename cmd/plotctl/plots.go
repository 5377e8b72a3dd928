package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var plotColumns = []column{
	{Header: "ID", Path: "id"},
	{Header: "Name", Path: "name", Width: 30},
	{Header: "Field", Path: "fieldId"},
	{Header: "Hectares", Path: "areaHectares"},
	{Header: "State", Path: "state"},
	{Header: "Crop", Path: "cropId"},
	{Header: "Since", Path: "stateChangedAt"},
}

var plotDetailColumns = []column{
	{Header: "ID", Path: "id"},
	{Header: "Name", Path: "name"},
	{Header: "Field", Path: "fieldId"},
	{Header: "Hectares", Path: "areaHectares"},
	{Header: "State", Path: "state"},
	{Header: "Version", Path: "version"},
	{Header: "Crop", Path: "cropId"},
	{Header: "Sown", Path: "sowingDate"},
	{Header: "Expected harvest", Path: "expectedHarvestDate"},
	{Header: "Responsible", Path: "responsibleUser"},
	{Header: "Changed at", Path: "stateChangedAt"},
	{Header: "Changed by", Path: "stateChangedBy"},
	{Header: "Reason", Path: "stateReason"},
	{Header: "Allowed", Path: "allowedTransitions"},
}

func newPlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plots",
		Aliases: []string{"plot"},
		Short:   "List, inspect, create and delete plots",
	}

	var states []string
	var field string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the company's plots",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(states) > 0 {
				q.Set("state", strings.Join(states, ","))
			}
			if field != "" {
				q.Set("fieldId", field)
			}
			path := "/plots"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return listAndPrint(path, plotColumns)
		},
	}
	list.Flags().StringSliceVar(&states, "state", nil, "Only plots in these states")
	list.Flags().StringVar(&field, "field", "", "Only plots of this field")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a plot and its allowed transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plot map[string]any
			if err := newClient().get("/plots/"+url.PathEscape(args[0]), &plot); err != nil {
				return err
			}
			return printObject(plot, plotDetailColumns)
		},
	}

	var in struct {
		Name            string `json:"name"`
		FieldID         string `json:"fieldId,omitempty"`
		AreaHectares    string `json:"areaHectares"`
		ResponsibleUser string `json:"responsibleUser,omitempty"`
		State           string `json:"state,omitempty"`
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a plot",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plot map[string]any
			if err := newClient().post("/plots", in, &plot); err != nil {
				return err
			}
			return printObject(plot, plotDetailColumns)
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "Plot name")
	create.Flags().StringVar(&in.AreaHectares, "area", "", "Area in hectares")
	create.Flags().StringVar(&in.FieldID, "field", "", "Field the plot belongs to")
	create.Flags().StringVar(&in.ResponsibleUser, "responsible", "", "Responsible user (default: caller)")
	create.Flags().StringVar(&in.State, "state", "", "Initial state (default: DISPONIBLE)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("area")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Soft-delete a plot; its harvest history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/plots/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plot %s deleted\n", args[0])
			return nil
		},
	}

	attention := &cobra.Command{
		Use:   "attention",
		Short: "Plots that are diseased, abandoned or overdue for harvest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAndPrint("/plots/attention", []column{
				{Header: "ID", Path: "plot.id"},
				{Header: "Name", Path: "plot.name", Width: 30},
				{Header: "State", Path: "plot.state"},
				{Header: "Reason", Path: "reason"},
				{Header: "Since", Path: "since"},
			})
		},
	}

	ready := &cobra.Command{
		Use:       "ready sowing|harvest",
		Short:     "Plots ready for sowing or for harvest",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sowing", "harvest"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "sowing", "harvest":
				return listAndPrint("/plots/ready-for-"+args[0], plotColumns)
			default:
				return fmt.Errorf("unknown list %q (expected sowing or harvest)", args[0])
			}
		},
	}

	cmd.AddCommand(list, get, create, del, attention, ready)
	return cmd
}

func listAndPrint(path string, cols []column) error {
	var resp map[string]any
	if err := newClient().get(path, &resp); err != nil {
		return err
	}
	return printItems(itemsOf(resp), cols)
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Company reports",
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Plot counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s map[string]any
			if err := newClient().get("/reports/summary", &s); err != nil {
				return err
			}
			if structured() {
				return printOutput(s)
			}
			byState, _ := s["byState"].(map[string]any)
			states := make([]string, 0, len(byState))
			for st := range byState {
				states = append(states, st)
			}
			sort.Strings(states)
			rows := make([][]string, 0, len(states)+1)
			for _, st := range states {
				rows = append(rows, []string{st, extractValue(byState, st)})
			}
			rows = append(rows, []string{"TOTAL", extractValue(s, "total")})
			printTable([]string{"State", "Plots"}, rows)
			return nil
		},
	}

	cropYields := &cobra.Command{
		Use:   "crop-yields",
		Short: "Average projected and actual yield per crop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAndPrint("/reports/crop-yields", []column{
				{Header: "Crop", Path: "cropId"},
				{Header: "Name", Path: "cropName"},
				{Header: "Harvests", Path: "harvests"},
				{Header: "Avg projected", Path: "avgProjectedYield"},
				{Header: "Avg actual", Path: "avgActualYield"},
				{Header: "Unit", Path: "yieldUnit"},
				{Header: "Diff %", Path: "percentDifference"},
			})
		},
	}

	var file string
	export := &cobra.Command{
		Use:   "export",
		Short: "Download the harvest ledger as an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().doRaw(http.MethodGet, apiPrefix+"/reports/harvests.xlsx", nil)
			if err != nil {
				return err
			}
			if err := os.WriteFile(file, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", file, len(data))
			return nil
		},
	}
	export.Flags().StringVarP(&file, "file", "f", "harvests.xlsx", "Output file")

	yieldCmd := &cobra.Command{
		Use:   "yield PLOT",
		Short: "Latest harvest of a plot against its projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var y map[string]any
			if err := newClient().get(plotPath(args[0], "/yield-comparison"), &y); err != nil {
				return err
			}
			return printObject(y, []column{
				{Header: "Plot", Path: "plotId"},
				{Header: "Name", Path: "plotName"},
				{Header: "Projected", Path: "latest.projected"},
				{Header: "Actual", Path: "latest.actual"},
				{Header: "Unit", Path: "latest.unit"},
				{Header: "Diff %", Path: "latest.percentDifference"},
			})
		},
	}

	var calc struct {
		Quantity  string `json:"quantity"`
		Unit      string `json:"unit"`
		Area      string `json:"area"`
		YieldUnit string `json:"yieldUnit"`
	}
	calcCmd := &cobra.Command{
		Use:   "calc-yield",
		Short: "Compute a per-hectare yield without recording anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient().post("/yield/calculate", calc, &out); err != nil {
				return err
			}
			return printObject(out, []column{
				{Header: "Yield", Path: "yield"},
				{Header: "Unit", Path: "unit"},
			})
		},
	}
	calcCmd.Flags().StringVar(&calc.Quantity, "quantity", "", "Harvested quantity")
	calcCmd.Flags().StringVar(&calc.Unit, "unit", "kg", "Quantity unit: kg, tn or qq")
	calcCmd.Flags().StringVar(&calc.Area, "area", "", "Area in hectares")
	calcCmd.Flags().StringVar(&calc.YieldUnit, "yield-unit", "qq/ha", "Yield unit: qq/ha, tn/ha or kg/ha")
	_ = calcCmd.MarkFlagRequired("quantity")
	_ = calcCmd.MarkFlagRequired("area")

	var diff struct {
		Projected string `json:"projected"`
		Actual    string `json:"actual"`
	}
	diffCmd := &cobra.Command{
		Use:   "yield-diff",
		Short: "Percent difference between a projected and an actual yield",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient().post("/yield/difference", diff, &out); err != nil {
				return err
			}
			return printObject(out, []column{
				{Header: "Projected", Path: "projected"},
				{Header: "Actual", Path: "actual"},
				{Header: "Diff %", Path: "percentDifference"},
				{Header: "Exceeds", Path: "exceedsExpectation"},
				{Header: "Meets", Path: "meetsExpectation"},
			})
		},
	}
	diffCmd.Flags().StringVar(&diff.Projected, "projected", "", "Projected yield")
	diffCmd.Flags().StringVar(&diff.Actual, "actual", "", "Actual yield")
	_ = diffCmd.MarkFlagRequired("projected")
	_ = diffCmd.MarkFlagRequired("actual")

	cmd.AddCommand(summary, cropYields, export, yieldCmd, calcCmd, diffCmd)
	return cmd
}

var cropsCmd = &cobra.Command{
	Use:   "crops",
	Short: "List the crop catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAndPrint("/crops", []column{
			{Header: "ID", Path: "id"},
			{Header: "Name", Path: "name"},
			{Header: "Projected yield", Path: "projectedYield"},
			{Header: "Unit", Path: "yieldUnit"},
			{Header: "Rest days", Path: "restDays"},
			{Header: "Cycle days", Path: "cycleDays"},
		})
	},
}

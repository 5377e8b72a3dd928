package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	var healthResp map[string]any
	if err := client.do(http.MethodGet, "/healthz", nil, &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	var readyResp map[string]any
	if err := client.do(http.MethodGet, "/readyz", nil, &readyResp); err != nil {
		// The server may still be starting.
		readyResp = map[string]any{"status": "unknown", "error": err.Error()}
	}

	if structured() {
		return printOutput(map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		})
	}

	rows := [][]string{
		{"Liveness", extractValue(healthResp, "status")},
		{"Uptime", extractValue(healthResp, "uptime")},
		{"Readiness", extractValue(readyResp, "status")},
		{"Database", extractValue(readyResp, "database.status")},
	}
	if leader := extractValue(readyResp, "leader"); leader != "" {
		rows = append(rows, []string{"Leader", leader})
	}
	printTable([]string{"Check", "Status"}, rows)
	return nil
}

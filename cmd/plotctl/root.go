package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	company   string
	user      string
	groups    []string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "plotctl",
	Short: "CLI for the plots server",
	Long: `plotctl drives the plots API: plot lifecycle transitions with
propose/confirm, the harvest ledger and the company reports.

Transitions are two-step. "plotctl state propose" returns a proposal id that
"plotctl state confirm" applies; "plotctl state move --yes" does both.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", envOr("PLOTS_SERVER", "http://localhost:8080"), "Plots server URL")
	pf.StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	pf.StringVarP(&company, "company", "c", os.Getenv("PLOTS_COMPANY"), "Company id, sent as X-Company-ID")
	pf.StringVar(&user, "user", envOr("PLOTS_USER", os.Getenv("USER")), "User, sent as X-Remote-User")
	pf.StringSliceVar(&groups, "role", nil, "Roles, sent as X-Remote-Group (repeatable)")
	pf.StringVar(&token, "token", os.Getenv("PLOTS_TOKEN"), "Bearer token; takes precedence over --user/--role on JWT servers")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(newPlotsCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newHarvestCmd())
	rootCmd.AddCommand(newReportsCmd())
	rootCmd.AddCommand(cropsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

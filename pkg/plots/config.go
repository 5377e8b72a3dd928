package plots

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agrogestion/plots/pkg/yield"
)

// Proposal store backends.
const (
	ProposalStoreMemory   = "memory"
	ProposalStoreDB       = "db"
	ProposalStoreDynamoDB = "dynamodb"
)

// Config holds the lifecycle and ledger tunables.
type Config struct {
	// ProposalTTL bounds how long a proposal can be confirmed.
	ProposalTTL time.Duration

	// ProposalStore selects the proposal backend: memory, db or dynamodb.
	ProposalStore string

	// ProposalTable is the DynamoDB table used by the dynamodb backend.
	ProposalTable string

	// MinRestDays is the hard floor between a harvest and a release.
	MinRestDays int

	// DefaultRestDays is the recommended rest when no crop default exists.
	DefaultRestDays int

	// HarvestOverdueDays flags LISTO_PARA_COSECHA plots as needing attention.
	HarvestOverdueDays int

	// DefaultYieldUnit is used when neither the request nor the crop names one.
	DefaultYieldUnit string

	// DepletedThreshold is the actual/projected ratio below which the soil
	// is recorded as depleted.
	DepletedThreshold float64

	// CropsFile is the optional YAML crop catalog.
	CropsFile string
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		ProposalTTL:        10 * time.Minute,
		ProposalStore:      ProposalStoreMemory,
		ProposalTable:      "plot_proposals",
		MinRestDays:        7,
		DefaultRestDays:    30,
		HarvestOverdueDays: 15,
		DefaultYieldUnit:   "qq/ha",
		DepletedThreshold:  0.7,
	}
}

// ConfigFromEnv reads configuration from environment variables, falling back
// to defaults for any unset or invalid variable.
//
// Environment variables:
//   - PLOTS_PROPOSAL_TTL: Go duration or seconds (default: 10m)
//   - PLOTS_PROPOSAL_STORE: memory, db or dynamodb (default: memory)
//   - PLOTS_PROPOSAL_TABLE: DynamoDB table (default: plot_proposals)
//   - PLOTS_MIN_REST_DAYS (default: 7)
//   - PLOTS_DEFAULT_REST_DAYS (default: 30)
//   - PLOTS_HARVEST_OVERDUE_DAYS (default: 15)
//   - PLOTS_DEFAULT_YIELD_UNIT (default: qq/ha)
//   - PLOTS_CROPS_FILE: crop catalog YAML path
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PLOTS_PROPOSAL_TTL"); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.ProposalTTL = d
		}
	}
	if v := strings.ToLower(os.Getenv("PLOTS_PROPOSAL_STORE")); v != "" {
		switch v {
		case ProposalStoreMemory, ProposalStoreDB, ProposalStoreDynamoDB:
			cfg.ProposalStore = v
		}
	}
	if v := os.Getenv("PLOTS_PROPOSAL_TABLE"); v != "" {
		cfg.ProposalTable = v
	}
	envInt("PLOTS_MIN_REST_DAYS", &cfg.MinRestDays)
	envInt("PLOTS_DEFAULT_REST_DAYS", &cfg.DefaultRestDays)
	envInt("PLOTS_HARVEST_OVERDUE_DAYS", &cfg.HarvestOverdueDays)
	if v := os.Getenv("PLOTS_DEFAULT_YIELD_UNIT"); v != "" {
		if canonical, _, err := yield.NormalizeYieldUnit(v); err == nil {
			cfg.DefaultYieldUnit = canonical
		}
	}
	cfg.CropsFile = os.Getenv("PLOTS_CROPS_FILE")
	return cfg
}

func parseDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

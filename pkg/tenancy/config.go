// Package tenancy resolves the owning company (tenant) of each request.
// Single-company deployments use a fixed "default" company; multi-company
// deployments require the company on every request.
package tenancy

import (
	"os"
	"strings"
)

// TenancyMode controls how the company is resolved.
type TenancyMode string

const (
	// ModeSingle scopes every request to the "default" company.
	ModeSingle TenancyMode = "single"
	// ModeCompany requires a company id per request.
	ModeCompany TenancyMode = "company"
)

// DefaultCompany is the company used in single mode.
const DefaultCompany = "default"

// ModeFromEnv reads PLOTS_TENANCY_MODE ("single" or "company", default "single").
func ModeFromEnv() TenancyMode {
	if strings.EqualFold(os.Getenv("PLOTS_TENANCY_MODE"), string(ModeCompany)) {
		return ModeCompany
	}
	return ModeSingle
}

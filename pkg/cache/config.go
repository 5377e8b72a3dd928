package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the report response cache.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, report
	// requests pass through uncached.
	Enabled bool

	// ReportsTTL is the TTL for cached report responses.
	ReportsTTL time.Duration

	// MaxSize is the maximum number of cached responses.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    true,
		ReportsTTL: 60 * time.Second,
		MaxSize:    1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PLOTS_CACHE_ENABLED: "true" or "false" (default: "true")
//   - PLOTS_CACHE_REPORTS_TTL: duration in seconds (default: 60)
//   - PLOTS_CACHE_MAX_SIZE: max cached responses (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("PLOTS_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PLOTS_CACHE_REPORTS_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ReportsTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PLOTS_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}
	return cfg
}

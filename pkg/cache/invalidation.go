package cache

import (
	"net/http"
	"strings"
)

// CacheManager owns the report response cache and invalidates it when a
// company's plots or harvests change. A nil *CacheManager is valid and does
// nothing.
type CacheManager struct {
	reports *TTLCache[[]byte]
}

// NewCacheManager creates a CacheManager from the given configuration.
// If cfg is nil or disabled, it returns nil.
func NewCacheManager(cfg *CacheConfig) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &CacheManager{
		reports: NewTTLCache[[]byte](cfg.MaxSize, cfg.ReportsTTL),
	}
}

// InvalidateCompany drops every cached report of the company.
func (cm *CacheManager) InvalidateCompany(company string) {
	if cm == nil {
		return
	}
	prefix := company + companyKeySep
	cm.reports.InvalidateFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateAll clears the report cache entirely.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.reports.InvalidateAll()
}

// ReportsMiddleware returns HTTP middleware that caches report responses.
// On a nil manager it passes requests through.
func (cm *CacheManager) ReportsMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return CacheMiddleware(cm.reports)
}

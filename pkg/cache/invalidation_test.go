package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCacheManager(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"NewCacheManagerDisabled", testNewCacheManagerDisabled},
		{"InvalidateCompany", testInvalidateCompany},
		{"NilCacheManagerSafe", testNilCacheManagerSafe},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testNewCacheManagerDisabled(t *testing.T) {
	if NewCacheManager(&CacheConfig{Enabled: false}) != nil {
		t.Fatal("expected nil CacheManager when disabled")
	}
	if NewCacheManager(nil) != nil {
		t.Fatal("expected nil CacheManager for nil config")
	}
}

func testInvalidateCompany(t *testing.T) {
	cm := NewCacheManager(&CacheConfig{Enabled: true, ReportsTTL: time.Minute, MaxSize: 100})

	calls := 0
	handler := cm.ReportsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	serve := func(company string) string {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, companyRequest(http.MethodGet, "/api/plots/v1/reports/summary", company))
		return rec.Header().Get("X-Cache")
	}

	serve("acme")
	serve("globex")
	cm.InvalidateCompany("acme")

	if got := serve("acme"); got != "MISS" {
		t.Fatalf("expected acme MISS after invalidation, got %q", got)
	}
	if got := serve("globex"); got != "HIT" {
		t.Fatalf("expected globex HIT, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls)
	}

	cm.InvalidateAll()
	if got := serve("globex"); got != "MISS" {
		t.Fatalf("expected MISS after InvalidateAll, got %q", got)
	}
}

func testNilCacheManagerSafe(t *testing.T) {
	var cm *CacheManager
	cm.InvalidateCompany("acme")
	cm.InvalidateAll()

	rec := httptest.NewRecorder()
	cm.ReportsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", rec.Code)
	}
}

package cache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agrogestion/plots/pkg/tenancy"
)

func companyRequest(method, target, company string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(tenancy.WithTenant(req.Context(), tenancy.TenantContext{CompanyID: company}))
}

func TestCacheMiddleware(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"GETCachedOnSecondCall", testGETCachedOnSecondCall},
		{"POSTNotCached", testPOSTNotCached},
		{"Non200NotCached", testNon200NotCached},
		{"CompaniesCachedSeparately", testCompaniesCachedSeparately},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testGETCachedOnSecondCall(t *testing.T) {
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"DISPONIBLE":3}`))
	})

	c := NewTTLCache[[]byte](10, 5*time.Second)
	wrapped := CacheMiddleware(c)(handler)

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, companyRequest(http.MethodGet, "/api/plots/v1/reports/summary", "acme"))
	if rec1.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected X-Cache: MISS, got %q", rec1.Header().Get("X-Cache"))
	}

	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, companyRequest(http.MethodGet, "/api/plots/v1/reports/summary", "acme"))
	if rec2.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("expected X-Cache: HIT, got %q", rec2.Header().Get("X-Cache"))
	}
	if callCount != 1 {
		t.Fatalf("expected handler called once, got %d", callCount)
	}

	body, _ := io.ReadAll(rec2.Result().Body)
	if string(body) != `{"DISPONIBLE":3}` {
		t.Fatalf("expected cached body, got %q", string(body))
	}
}

func testPOSTNotCached(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := NewTTLCache[[]byte](10, 5*time.Second)
	rec := httptest.NewRecorder()
	CacheMiddleware(c)(handler).ServeHTTP(rec, companyRequest(http.MethodPost, "/api/plots/v1/plots", "acme"))

	if c.Size() != 0 {
		t.Fatalf("expected cache size 0 for POST, got %d", c.Size())
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Fatalf("expected no X-Cache header on POST, got %q", rec.Header().Get("X-Cache"))
	}
}

func testNon200NotCached(t *testing.T) {
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewTTLCache[[]byte](10, 5*time.Second)
	wrapped := CacheMiddleware(c)(handler)
	for i := 0; i < 2; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), companyRequest(http.MethodGet, "/api/plots/v1/reports/missing", "acme"))
	}

	if c.Size() != 0 {
		t.Fatalf("expected cache size 0 for non-200, got %d", c.Size())
	}
	if callCount != 2 {
		t.Fatalf("expected handler called twice, got %d", callCount)
	}
}

func testCompaniesCachedSeparately(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(tenancy.CompanyFromContext(r.Context())))
	})

	c := NewTTLCache[[]byte](10, 5*time.Second)
	wrapped := CacheMiddleware(c)(handler)

	wrapped.ServeHTTP(httptest.NewRecorder(), companyRequest(http.MethodGet, "/r", "acme"))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, companyRequest(http.MethodGet, "/r", "globex"))

	if rec.Header().Get("X-Cache") != "MISS" {
		t.Fatal("expected a different company to miss")
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if string(body) != "globex" {
		t.Fatalf("expected globex body, got %q", string(body))
	}
	if c.Size() != 2 {
		t.Fatalf("expected 2 cached entries, got %d", c.Size())
	}
}

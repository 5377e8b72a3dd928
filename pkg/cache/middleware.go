package cache

import (
	"bytes"
	"net/http"

	"github.com/agrogestion/plots/pkg/tenancy"
)

// cacheResponseWriter wraps http.ResponseWriter to capture the response body
// and status code so they can be stored in the cache.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// companyKeySep separates the company from the request URI in cache keys.
const companyKeySep = "|"

// Key returns the cache key for a request URI in a company.
func Key(company, requestURI string) string {
	return company + companyKeySep + requestURI
}

// CacheMiddleware returns HTTP middleware that caches JSON GET responses.
// Entries are keyed by the request's company and URI, so one company never
// sees another's cached report.
//
// Only GET requests are cached and only 200 responses are stored. Responses
// carry X-Cache: HIT or MISS.
func CacheMiddleware(c *TTLCache[[]byte]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := Key(tenancy.CompanyFromContext(r.Context()), r.URL.RequestURI())

			if cached, ok := c.Get(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(crw, r)

			if crw.statusCode == http.StatusOK {
				c.Set(key, bytes.Clone(crw.body.Bytes()))
			}
		})
	}
}

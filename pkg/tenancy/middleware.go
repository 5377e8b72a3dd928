package tenancy

import (
	"encoding/json"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the company using the
// provided TenantResolver and stores it in the request context. A tenant
// already placed in the context upstream (for example from a verified token
// claim) is kept as is. On resolution failure it responds with a 400 JSON error.
func Middleware(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc, ok := TenantFromContext(r.Context()); ok && tc.CompanyID != "" {
				next.ServeHTTP(w, r)
				return
			}

			tc, err := resolver.Resolve(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "InvalidRequest",
					"message": err.Error(),
				})
				return
			}

			ctx := WithTenant(r.Context(), tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMiddleware creates middleware with the resolver for the given mode.
func NewMiddleware(mode TenancyMode) func(http.Handler) http.Handler {
	var resolver TenantResolver
	switch mode {
	case ModeCompany:
		resolver = CompanyTenantResolver{}
	default:
		resolver = SingleTenantResolver{}
	}
	return Middleware(resolver)
}

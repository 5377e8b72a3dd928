package authz

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agrogestion/plots/pkg/tenancy"
)

// RequirePermission returns middleware that enforces a specific resource/verb
// permission check. It reads the identity (IdentityMiddleware) and the company
// (tenancy middleware) from the request context.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorize(w, r, authorizer, ResourceMapping{Resource: resource, Verb: verb}) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthzMiddleware returns middleware that auto-maps the HTTP method and URL path
// to a (resource, verb) pair and performs the authorization check. Mount it on
// the API sub-routers; requests that cannot be mapped are denied.
func AuthzMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)
			if mapping == UnknownMapping {
				writeDenied(w, http.StatusForbidden, "Forbidden", "unknown endpoint, access denied")
				return
			}
			if !authorize(w, r, authorizer, mapping) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorize(w http.ResponseWriter, r *http.Request, authorizer Authorizer, mapping ResourceMapping) bool {
	id, _ := IdentityFromContext(r.Context())
	company := tenancy.CompanyFromContext(r.Context())

	allowed, err := authorizer.Authorize(r.Context(), AuthzRequest{
		User:     id.User,
		Groups:   id.Groups,
		Resource: mapping.Resource,
		Verb:     mapping.Verb,
		Company:  company,
	})
	if err != nil {
		slog.Error("authorization check failed", "error", err, "user", id.User)
		writeDenied(w, http.StatusInternalServerError, "InternalError", "authorization check failed")
		return false
	}
	if !allowed {
		writeDenied(w, http.StatusForbidden, "Forbidden",
			fmt.Sprintf("insufficient permissions for %s/%s in company %s", mapping.Resource, mapping.Verb, company))
		return false
	}
	return true
}

func writeDenied(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
	})
}

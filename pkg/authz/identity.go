package authz

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

type identityCtxKey struct{}

// Identity is the caller of a request. Groups holds canonical role names
// (see NormalizeRoles).
type Identity struct {
	User   string
	Groups []string
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// HasRole reports whether the identity holds role.
func (id Identity) HasRole(role string) bool {
	return slices.Contains(id.Groups, canonicalRole(role))
}

// IsAdmin reports whether the identity bypasses the role policy.
func (id Identity) IsAdmin() bool {
	return id.HasRole(RoleSuperAdmin) || id.HasRole(RoleAdmin)
}

// roleSpelling folds the accented spellings used by the web client.
var roleSpelling = strings.NewReplacer("É", "E", "Á", "A", "Í", "I", "Ó", "O", "Ú", "U")

func canonicalRole(raw string) string {
	r := strings.ToUpper(strings.TrimSpace(raw))
	r = strings.TrimPrefix(r, "ROLE_")
	return roleSpelling.Replace(r)
}

// NormalizeRoles turns raw role values into canonical role names. Each value
// may itself be a comma separated list. "ROLE_" prefixes are dropped, case
// and accents are folded ("Técnico" becomes TECNICO) and duplicates removed.
func NormalizeRoles(values ...string) []string {
	var roles []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			r := canonicalRole(part)
			if r == "" || slices.Contains(roles, r) {
				continue
			}
			roles = append(roles, r)
		}
	}
	return roles
}

// IdentityMiddleware reads the caller from the X-Remote-User and
// X-Remote-Group headers set by a trusted proxy. X-Remote-Group may repeat or
// carry a comma separated list. A missing user becomes "anonymous".
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
			if user == "" {
				user = "anonymous"
			}
			ctx := WithIdentity(r.Context(), Identity{
				User:   user,
				Groups: NormalizeRoles(r.Header.Values("X-Remote-Group")...),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

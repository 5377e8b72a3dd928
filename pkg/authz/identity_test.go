package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestNormalizeRoles(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{"single role", []string{"PRODUCTOR"}, []string{"PRODUCTOR"}},
		{"comma list", []string{"PRODUCTOR,TECNICO"}, []string{"PRODUCTOR", "TECNICO"}},
		{"spring prefix", []string{"ROLE_ASESOR"}, []string{"ASESOR"}},
		{"lower case and accent", []string{"técnico"}, []string{"TECNICO"}},
		{"repeated values", []string{"OPERARIO", "operario", "ROLE_OPERARIO"}, []string{"OPERARIO"}},
		{"blank segments", []string{" PRODUCTOR ,, INVITADO ,"}, []string{"PRODUCTOR", "INVITADO"}},
		{"nothing", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRoles(tt.values...); !slices.Equal(got, tt.want) {
				t.Errorf("NormalizeRoles(%q) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestIdentityRoles(t *testing.T) {
	tests := []struct {
		name      string
		groups    []string
		role      string
		wantRole  bool
		wantAdmin bool
	}{
		{"productor", []string{RoleProductor}, RoleProductor, true, false},
		{"lookup folds case", []string{RoleTecnico}, "Técnico", true, false},
		{"asesor is not operario", []string{RoleAsesor}, RoleOperario, false, false},
		{"administrador is not an admin", []string{RoleAdministrador}, RoleAdministrador, true, false},
		{"admin", []string{RoleInvitado, RoleAdmin}, RoleInvitado, true, true},
		{"superadmin", []string{RoleSuperAdmin}, RoleProductor, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := Identity{User: "ana", Groups: tt.groups}
			if got := id.HasRole(tt.role); got != tt.wantRole {
				t.Errorf("HasRole(%q) = %v, want %v", tt.role, got, tt.wantRole)
			}
			if got := id.IsAdmin(); got != tt.wantAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.wantAdmin)
			}
		})
	}
}

func TestIdentityFromContextMissing(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("expected no identity in empty context")
	}
}

func TestIdentityMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		groups     []string
		wantUser   string
		wantGroups []string
	}{
		{"productor", "ana", []string{"PRODUCTOR"}, "ana", []string{"PRODUCTOR"}},
		{"no user is anonymous", "  ", []string{"INVITADO"}, "anonymous", []string{"INVITADO"}},
		{"repeated header", "beto", []string{"PRODUCTOR", "TECNICO"}, "beto", []string{"PRODUCTOR", "TECNICO"}},
		{"comma list and prefix", "caro", []string{"ROLE_asesor, operario"}, "caro", []string{"ASESOR", "OPERARIO"}},
		{"no roles", "dani", nil, "dani", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Identity
			var ok bool
			handler := IdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = IdentityFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/plots", nil)
			req.Header.Set("X-Remote-User", tt.user)
			for _, g := range tt.groups {
				req.Header.Add("X-Remote-Group", g)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !ok {
				t.Fatal("expected identity in context after middleware")
			}
			if got.User != tt.wantUser {
				t.Errorf("User = %q, want %q", got.User, tt.wantUser)
			}
			if !slices.Equal(got.Groups, tt.wantGroups) {
				t.Errorf("Groups = %q, want %q", got.Groups, tt.wantGroups)
			}
		})
	}
}

// The lifecycle layer checks these grants itself, so they must hold for the
// roles that reach it straight from the identity headers.
func TestIdentityMiddleware_HandlerGrants(t *testing.T) {
	tests := []struct {
		header   string
		resource string
		verb     string
		want     bool
	}{
		{"ROLE_ASESOR", ResourcePlots, VerbFlag, true},
		{"ROLE_ASESOR", ResourcePlots, VerbTransition, false},
		{"operario", ResourcePlots, VerbGet, true},
		{"operario", ResourceHarvests, VerbCreate, false},
		{"Técnico", ResourceHarvests, VerbCreate, true},
		{"invitado", ResourceReports, VerbGet, true},
		{"invitado", ResourcePlots, VerbRelease, false},
		{"productor", ResourcePlots, VerbForceRelease, true},
	}
	authorizer := NewRoleAuthorizer(DefaultPolicy())
	for _, tt := range tests {
		t.Run(tt.header+" "+tt.resource+"/"+tt.verb, func(t *testing.T) {
			var got bool
			handler := IdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, _ := IdentityFromContext(r.Context())
				var err error
				got, err = authorizer.Authorize(r.Context(), AuthzRequest{
					User: id.User, Groups: id.Groups, Resource: tt.resource, Verb: tt.verb, Company: "acme",
				})
				if err != nil {
					t.Errorf("Authorize: %v", err)
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/plots", nil)
			req.Header.Set("X-Remote-User", "ana")
			req.Header.Set("X-Remote-Group", tt.header)
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("allowed = %v, want %v", got, tt.want)
			}
		})
	}
}

package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agrogestion/plots/pkg/tenancy"
)

func newAuthzRequest(method, path string, id Identity, company string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	ctx := WithIdentity(req.Context(), id)
	if company != "" {
		ctx = tenancy.WithTenant(ctx, tenancy.TenantContext{CompanyID: company})
	}
	return req.WithContext(ctx)
}

func TestRequirePermission_Allowed(t *testing.T) {
	handler := RequirePermission(&NoopAuthorizer{}, ResourcePlots, VerbGet)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newAuthzRequest(http.MethodGet, "/test", Identity{User: "ana"}, "acme"))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRequirePermission_Denied(t *testing.T) {
	handler := RequirePermission(&denyAuthorizer{}, ResourceHarvests, VerbDelete)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called when denied")
		}),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newAuthzRequest(http.MethodDelete, "/test", Identity{User: "beto"}, "acme"))

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "Forbidden" {
		t.Errorf("error = %q, want %q", body["error"], "Forbidden")
	}
	if !strings.Contains(body["message"], "acme") {
		t.Errorf("message %q should name the company", body["message"])
	}
}

func TestRequirePermission_AuthorizerError(t *testing.T) {
	handler := RequirePermission(&countingAuthorizer{err: errors.New("boom")}, ResourcePlots, VerbGet)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called on error")
		}),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newAuthzRequest(http.MethodGet, "/test", Identity{User: "ana"}, "acme"))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("internal error detail leaked into response")
	}
}

func TestAuthzMiddleware_RolePolicy(t *testing.T) {
	authorizer := NewRoleAuthorizer(DefaultPolicy())

	tests := []struct {
		name   string
		method string
		path   string
		groups []string
		want   int
	}{
		{"guest lists plots", http.MethodGet, PlotsAPIPrefix + "/plots", []string{RoleInvitado}, http.StatusOK},
		{"guest cannot release", http.MethodPost, PlotsAPIPrefix + "/plots/p1/release", []string{RoleInvitado}, http.StatusForbidden},
		{"technician releases", http.MethodPost, PlotsAPIPrefix + "/plots/p1/release", []string{RoleTecnico}, http.StatusOK},
		{"technician cannot force release", http.MethodPost, PlotsAPIPrefix + "/plots/p1/release-forced", []string{RoleTecnico}, http.StatusForbidden},
		{"producer forces release", http.MethodPost, PlotsAPIPrefix + "/plots/p1/release-forced", []string{RoleProductor}, http.StatusOK},
		{"producer cannot delete harvest", http.MethodDelete, PlotsAPIPrefix + "/plots/p1/harvests/h1", []string{RoleProductor}, http.StatusForbidden},
		{"administrator deletes harvest", http.MethodDelete, PlotsAPIPrefix + "/plots/p1/harvests/h1", []string{RoleAdministrador}, http.StatusOK},
		{"superadmin does anything", http.MethodGet, "/api/audit/v1/events", []string{RoleSuperAdmin}, http.StatusOK},
		{"no roles denied", http.MethodGet, PlotsAPIPrefix + "/plots", nil, http.StatusForbidden},
		{"unknown endpoint denied", http.MethodGet, "/unknown/path", []string{RoleSuperAdmin}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthzMiddleware(authorizer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newAuthzRequest(tt.method, tt.path, Identity{User: "ana", Groups: tt.groups}, "acme"))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

// denyAuthorizer always denies requests.
type denyAuthorizer struct{}

func (d *denyAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	return false, nil
}

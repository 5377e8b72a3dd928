package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrogestion/plots/pkg/authz"
	"github.com/agrogestion/plots/pkg/tenancy"
)

func auditRequest(method, target, company string, groups ...string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := tenancy.WithTenant(req.Context(), tenancy.TenantContext{CompanyID: company})
	ctx = authz.WithIdentity(ctx, authz.Identity{User: "ana", Groups: groups})
	return req.WithContext(ctx)
}

func TestListEventsHandler_ScopesToCompany(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	appendEvent(t, store, "acme", "p1", EventTypeStateChanged, now)
	appendEvent(t, store, "acme", "p2", EventTypeReleased, now)
	appendEvent(t, store, "globex", "p9", EventTypeStateChanged, now)

	r := chi.NewRouter()
	r.Mount("/api/audit/v1", Router(store, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, auditRequest(http.MethodGet, "/api/audit/v1/events?plotId=p1", "acme"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events    []EventResponse `json:"events"`
		TotalSize int             `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.TotalSize)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "p1", body.Events[0].PlotID)
	assert.Equal(t, "acme", body.Events[0].CompanyID)
}

func TestListEventsHandler_BadPageToken(t *testing.T) {
	store := newTestStore(t)
	rec := httptest.NewRecorder()
	ListEventsHandler(store).ServeHTTP(rec, auditRequest(http.MethodGet, "/events?pageToken=nope", "acme"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEventHandler(t *testing.T) {
	store := newTestStore(t)
	ev := appendEvent(t, store, "acme", "p1", EventTypeStateChanged, time.Now())

	r := chi.NewRouter()
	r.Mount("/api/audit/v1", Router(store, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, auditRequest(http.MethodGet, "/api/audit/v1/events/"+ev.ID, "acme"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, auditRequest(http.MethodGet, "/api/audit/v1/events/"+ev.ID, "globex"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RequiresAuditPermission(t *testing.T) {
	store := newTestStore(t)
	r := chi.NewRouter()
	r.Mount("/api/audit/v1", Router(store, authz.NewRoleAuthorizer(authz.DefaultPolicy())))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, auditRequest(http.MethodGet, "/api/audit/v1/events", "acme", authz.RoleTecnico))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, auditRequest(http.MethodGet, "/api/audit/v1/events", "acme", authz.RoleAdministrador))
	assert.Equal(t, http.StatusOK, rec.Code)
}

package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrogestion/plots/pkg/tenancy"
)

// ListEventsHandler handles GET /api/audit/v1/events. Results are scoped to
// the request's company.
// Query params: actor, eventType, plotId, action, pageSize, pageToken
func ListEventsHandler(store *AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			CompanyID: tenancy.CompanyFromContext(r.Context()),
			Actor:     q.Get("actor"),
			EventType: q.Get("eventType"),
			PlotID:    q.Get("plotId"),
			Action:    q.Get("action"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := q.Get("pageToken")
		if pageToken != "" {
			if _, err := time.Parse(time.RFC3339Nano, pageToken); err != nil {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid pageToken")
				return
			}
		}

		records, nextToken, total, err := store.ListFiltered(filter, pageSize, pageToken)
		if err != nil {
			slog.Error("failed to list audit events", "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "failed to list audit events")
			return
		}

		events := make([]EventResponse, len(records))
		for i, rec := range records {
			events[i] = RecordToResponse(rec)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1/events/{eventId}
func GetEventHandler(store *AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "missing event ID")
			return
		}

		record, err := store.GetByID(tenancy.CompanyFromContext(r.Context()), eventID)
		if err != nil {
			slog.Error("failed to get audit event", "error", err, "eventId", eventID)
			writeError(w, http.StatusInternalServerError, "InternalError", "failed to get audit event")
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, "NotFound", "audit event not found")
			return
		}

		writeJSON(w, http.StatusOK, RecordToResponse(*record))
	}
}

// EventResponse is the API form of an audit event.
type EventResponse struct {
	ID            string         `json:"id"`
	CompanyID     string         `json:"companyId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	RequestID     string         `json:"requestId,omitempty"`
	PlotID        string         `json:"plotId,omitempty"`
	FromState     string         `json:"from,omitempty"`
	ToState       string         `json:"to,omitempty"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceIDs   []string       `json:"resourceIds,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

// RecordToResponse converts a stored record to its API form.
func RecordToResponse(rec AuditEventRecord) EventResponse {
	return EventResponse{
		ID:            rec.ID,
		CompanyID:     rec.CompanyID,
		CorrelationID: rec.CorrelationID,
		EventType:     rec.EventType,
		Actor:         rec.Actor,
		RequestID:     rec.RequestID,
		PlotID:        rec.PlotID,
		FromState:     rec.FromState,
		ToState:       rec.ToState,
		ResourceType:  rec.ResourceType,
		ResourceIDs:   []string(rec.ResourceIDs),
		Action:        rec.Action,
		Outcome:       rec.Outcome,
		StatusCode:    rec.StatusCode,
		Reason:        rec.Reason,
		OldValue:      map[string]any(rec.OldValue),
		NewValue:      map[string]any(rec.NewValue),
		Metadata:      map[string]any(rec.EventMetadata),
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/agrogestion/plots/pkg/authz"
	"github.com/agrogestion/plots/pkg/tenancy"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware records an AuditEventRecord for every mutating request
// after the handler completes. Writes are best effort: a failed append is
// logged and the response is unaffected.
func AuditMiddleware(store *AuditStore, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isAuditedRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			event := buildRequestEvent(r, statusCode, outcome, startTime)
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", event.RequestID)
			}
		})
	}
}

func buildRequestEvent(r *http.Request, statusCode int, outcome string, startTime time.Time) *AuditEventRecord {
	ctx := r.Context()
	company := tenancy.CompanyFromContext(ctx)
	if company == "" {
		company = tenancy.DefaultCompany
	}

	actor := "anonymous"
	var groups []string
	if id, ok := authz.IdentityFromContext(ctx); ok {
		actor = id.User
		groups = id.Groups
	}

	requestID := middleware.GetReqID(ctx)
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = requestID
	}

	return &AuditEventRecord{
		ID:            uuid.New().String(),
		CompanyID:     company,
		CorrelationID: correlationID,
		EventType:     EventTypeRequest,
		Actor:         actor,
		RequestID:     requestID,
		ResourceType:  extractResourceType(r.URL.Path),
		ResourceIDs:   JSONStringSlice(extractResourceIDs(r.URL.Path)),
		Action:        extractActionVerb(r.Method, r.URL.Path),
		Outcome:       outcome,
		StatusCode:    statusCode,
		CreatedAt:     startTime,
		EventMetadata: JSONAny{
			"method":   r.Method,
			"path":     r.URL.Path,
			"plotId":   extractPlotID(r.URL.Path),
			"duration": time.Since(startTime).String(),
			"groups":   groups,
		},
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}

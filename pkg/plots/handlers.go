package plots

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agrogestion/plots/pkg/audit"
	"github.com/agrogestion/plots/pkg/tenancy"
	"github.com/agrogestion/plots/pkg/yield"
)

// Services are the components behind the HTTP API.
type Services struct {
	Coordinator *Coordinator
	Ledger      *Ledger
	Reporter    *Reporter
	Crops       *CropStore
	Audit       *audit.AuditStore
	Logger      *slog.Logger
	Now         func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// --- request bodies ---

type proposeRequest struct {
	TargetState string `json:"targetState"`
	Reason      string `json:"reason"`
}

// harvestBody keeps numbers raw so malformed quantities are reported as
// InvalidQuantity rather than as a decoding failure.
type harvestBody struct {
	CropID         string          `json:"cropId"`
	Date           string          `json:"date"`
	Quantity       json.RawMessage `json:"quantity"`
	Unit           string          `json:"unit"`
	Area           json.RawMessage `json:"area"`
	ProjectedYield json.RawMessage `json:"projectedYield"`
	YieldUnit      string          `json:"yieldUnit"`
	RestDays       *int            `json:"restDays"`
	SoilCondition  string          `json:"soilCondition"`
	Observations   string          `json:"observations"`
}

func (b *harvestBody) empty() bool {
	return len(b.Quantity) == 0 && b.CropID == "" && b.Unit == "" && b.Date == ""
}

func (b *harvestBody) toInput(plotID string) (*HarvestInput, error) {
	in := &HarvestInput{
		CropID:        b.CropID,
		Unit:          b.Unit,
		YieldUnit:     b.YieldUnit,
		RestDays:      b.RestDays,
		SoilCondition: b.SoilCondition,
		Observations:  b.Observations,
	}
	var err error
	if in.Quantity, err = rawDecimal(plotID, "quantity", b.Quantity); err != nil {
		return nil, err
	}
	if in.Area, err = rawDecimal(plotID, "area", b.Area); err != nil {
		return nil, err
	}
	if in.ProjectedYield, err = rawDecimal(plotID, "projectedYield", b.ProjectedYield); err != nil {
		return nil, err
	}
	if b.Date != "" {
		d, err := parseDate(b.Date)
		if err != nil {
			return nil, invalidRequest(plotID, fmt.Sprintf("invalid date %q", b.Date))
		}
		in.Date = &d
	}
	return in, nil
}

type confirmRequest struct {
	ProposalID string       `json:"proposalId"`
	Harvest    *harvestBody `json:"harvest"`
	harvestBody
}

type sowingRequest struct {
	CropID     string `json:"cropId"`
	SowingDate string `json:"sowingDate"`
	Reason     string `json:"reason"`
}

type harvestProposeRequest struct {
	Reason string `json:"reason"`
	harvestBody
}

type cancelRequest struct {
	ProposalID string `json:"proposalId"`
}

type forcedReleaseRequest struct {
	Justification string `json:"justification"`
}

type yieldCalculateRequest struct {
	Quantity  json.RawMessage `json:"quantity"`
	Unit      string          `json:"unit"`
	Area      json.RawMessage `json:"area"`
	YieldUnit string          `json:"yieldUnit"`
}

type yieldDifferenceRequest struct {
	Projected json.RawMessage `json:"projected"`
	Actual    json.RawMessage `json:"actual"`
}

// requiredDecimal is rawDecimal for fields that must be present.
func requiredDecimal(field string, raw json.RawMessage) (decimal.Decimal, error) {
	d, err := rawDecimal("", field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d == nil {
		return decimal.Zero, invalidQuantity("", field+" is required")
	}
	return *d, nil
}

func rawDecimal(plotID, field string, raw json.RawMessage) (*decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidQuantity(plotID, fmt.Sprintf("%s is not numeric", field))
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, invalidQuantity(plotID, fmt.Sprintf("%s is not numeric: %s", field, s))
	}
	return &d, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

// decodeJSON decodes an optional JSON body into dst. An empty body is allowed.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return invalidRequest(chi.URLParam(r, "id"), "invalid request body")
	}
	return nil
}

// --- plot collection ---

type plotDetail struct {
	*PlotRecord
	AllowedTransitions []State `json:"allowedTransitions"`
}

func listPlotsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := PlotFilter{
			CompanyID: tenancy.CompanyFromContext(r.Context()),
			FieldID:   r.URL.Query().Get("fieldId"),
		}
		for _, raw := range r.URL.Query()["state"] {
			for _, part := range strings.Split(raw, ",") {
				if strings.TrimSpace(part) == "" {
					continue
				}
				st, err := ParseState(part)
				if err != nil {
					writeDomainError(w, svc.logger(), err)
					return
				}
				filter.States = append(filter.States, st)
			}
		}
		items, err := svc.Reporter.FindPlots(r.Context(), filter)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func createPlotHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in PlotInput
		if err := decodeJSON(r, &in); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		plot, err := svc.Coordinator.CreatePlot(r.Context(), ActorFromContext(r.Context()), in)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusCreated, plot)
	}
}

func attentionHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Reporter.Attention(r.Context(), tenancy.CompanyFromContext(r.Context()), svc.now())
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func readyForSowingHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Reporter.ReadyForSowing(r.Context(), tenancy.CompanyFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func readyForHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Reporter.ReadyForHarvest(r.Context(), tenancy.CompanyFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

// --- single plot ---

func getPlotHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plot, err := svc.Coordinator.GetPlot(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, plotDetail{
			PlotRecord:         plot,
			AllowedTransitions: svc.Coordinator.machine.AllowedTransitions(plot.State),
		})
	}
}

func deletePlotHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Coordinator.DeletePlot(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- transitions ---

func proposeHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var req proposeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		target, err := ParseState(req.TargetState)
		if err != nil {
			writeDomainError(w, svc.logger(), invalidRequest(plotID, err.Error()))
			return
		}
		view, err := svc.Coordinator.Propose(r.Context(), ActorFromContext(r.Context()), plotID, target, req.Reason)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func confirmHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var req confirmRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		body := req.Harvest
		if body == nil && !req.harvestBody.empty() {
			body = &req.harvestBody
		}
		var harvest *HarvestInput
		if body != nil {
			in, err := body.toInput(plotID)
			if err != nil {
				writeDomainError(w, svc.logger(), err)
				return
			}
			harvest = in
		}
		result, err := svc.Coordinator.Confirm(r.Context(), ActorFromContext(r.Context()), plotID, req.ProposalID, harvest)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func cancelHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var req cancelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		if err := svc.Coordinator.Cancel(r.Context(), ActorFromContext(r.Context()), plotID, req.ProposalID); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"plotId": plotID, "status": "cancelled"})
	}
}

func currentProposalHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Coordinator.Current(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": view})
	}
}

func proposeSowingHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var req sowingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		in := SowingInput{CropID: req.CropID}
		if req.SowingDate != "" {
			d, err := parseDate(req.SowingDate)
			if err != nil {
				writeDomainError(w, svc.logger(), invalidRequest(plotID, fmt.Sprintf("invalid sowingDate %q", req.SowingDate)))
				return
			}
			in.SowingDate = &d
		}
		view, err := svc.Coordinator.ProposeSowing(r.Context(), ActorFromContext(r.Context()), plotID, in, req.Reason)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func proposeHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var req harvestProposeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		var in *HarvestInput
		if !req.harvestBody.empty() {
			parsed, err := req.harvestBody.toInput(plotID)
			if err != nil {
				writeDomainError(w, svc.logger(), err)
				return
			}
			in = parsed
		}
		view, err := svc.Coordinator.ProposeHarvest(r.Context(), ActorFromContext(r.Context()), plotID, in, req.Reason)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func transitionsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plot, err := svc.Coordinator.GetPlot(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		pageSize := 50
		if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
			pageSize = v
		}
		pageToken := r.URL.Query().Get("pageToken")
		if pageToken != "" {
			if _, err := time.Parse(time.RFC3339Nano, pageToken); err != nil {
				writeDomainError(w, svc.logger(), invalidRequest(plot.ID, "invalid pageToken"))
				return
			}
		}
		records, next, total, err := svc.Audit.ListByPlot(plot.CompanyID, plot.ID, pageSize, pageToken)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		events := make([]audit.EventResponse, len(records))
		for i, rec := range records {
			events[i] = audit.RecordToResponse(rec)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         events,
			"nextPageToken": next,
			"size":          total,
		})
	}
}

// --- harvest ledger ---

func recordHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		var body harvestBody
		if err := decodeJSON(r, &body); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		in, err := body.toInput(plotID)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		result, err := svc.Coordinator.RecordHarvest(r.Context(), ActorFromContext(r.Context()), plotID, *in)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func listHarvestsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Ledger.History(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func deleteHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.Ledger.DeleteHarvest(r.Context(), ActorFromContext(r.Context()),
			chi.URLParam(r, "id"), chi.URLParam(r, "harvestId"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func canReleaseHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Ledger.ReleaseStatus(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"), svc.now())
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func restDaysHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plotID := chi.URLParam(r, "id")
		days, err := svc.Ledger.RecommendedRestDays(r.Context(), ActorFromContext(r.Context()), plotID)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plotId": plotID, "recommendedRestDays": days})
	}
}

func releaseHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plot, err := svc.Ledger.Release(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, plot)
	}
}

func releaseForcedHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forcedReleaseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		plot, err := svc.Ledger.ReleaseForced(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"), req.Justification)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, plot)
	}
}

func latestHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Ledger.LatestHarvest(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func recentHarvestsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := DefaultRecentHarvestDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeDomainError(w, svc.logger(), invalidRequest("", fmt.Sprintf("invalid days %q", raw)))
				return
			}
			days = n
		}
		items, err := svc.Reporter.RecentHarvests(r.Context(), tenancy.CompanyFromContext(r.Context()), svc.now(), days)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func getHarvestHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Reporter.Harvest(r.Context(), tenancy.CompanyFromContext(r.Context()), chi.URLParam(r, "harvestId"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func yieldComparisonHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		py, err := svc.Reporter.PlotYield(r.Context(), tenancy.CompanyFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, py)
	}
}

// --- stateless yield calculator ---

func calculateYieldHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req yieldCalculateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		quantity, err := requiredDecimal("quantity", req.Quantity)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		area, err := requiredDecimal("area", req.Area)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		unit, _, err := yield.NormalizeYieldUnit(req.YieldUnit)
		if err != nil {
			writeDomainError(w, svc.logger(), fromYieldError("", err))
			return
		}
		actual, err := yield.ActualYield(quantity, req.Unit, area, unit)
		if err != nil {
			writeDomainError(w, svc.logger(), fromYieldError("", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"yield": actual, "unit": unit})
	}
}

func yieldDifferenceHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req yieldDifferenceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		projected, err := requiredDecimal("projected", req.Projected)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		actual, err := requiredDecimal("actual", req.Actual)
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, yield.Compare(projected, actual, ""))
	}
}

// --- reports and crops ---

func summaryHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.Reporter.Summary(r.Context(), tenancy.CompanyFromContext(r.Context()), svc.now())
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func cropYieldsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Reporter.CropYields(r.Context(), tenancy.CompanyFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

func exportHarvestsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		company := tenancy.CompanyFromContext(r.Context())
		var buf bytes.Buffer
		if err := svc.Reporter.ExportHarvests(r.Context(), company, &buf); err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="harvests-%s.xlsx"`, company))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func listCropsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Crops.List()
		if err != nil {
			writeDomainError(w, svc.logger(), err)
			return
		}
		writeItems(w, items)
	}
}

// --- helpers ---

func writeItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "size": len(items)})
}

// writeDomainError maps domain errors to their status and writes the error
// body. Anything else is logged and reported as a generic 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var de *Error
	if errors.As(err, &de) {
		writeJSON(w, HTTPStatus(de.Kind), de)
		return
	}
	logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "InternalError",
		"message": "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

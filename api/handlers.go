/*
handlers.go - HTTP API handlers for the ICMS reimbursement engine

PURPOSE:
  Exposes the calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine and
  the store.

ENDPOINTS:
  Eligibility:
    GET    /api/eligibility?installation_date=   GD1/GD2 and month count

  Calculations:
    POST   /api/calculations                   Calculate and persist
    POST   /api/calculations/preview           Calculate only
    GET    /api/calculations?scope=all|mine    History, newest first
    GET    /api/calculations/{id}              Record with details
    GET    /api/calculations/{id}/report.pdf   PDF export
    GET    /api/calculations/{id}/report.xlsx  XLSX export

  Dashboard:
    GET    /api/stats?scope=all|mine           Stored + running totals
    GET    /api/rates                          Rate table in use

OWNER:
  The caller identifies itself with the X-User-ID header. There is no
  authentication; "mine" requires the header, "all" does not.

REQUEST FLOW (POST /api/calculations):
  1. Decode and check presence of fields
  2. Calculator.Calculate (pure)
  3. Store.Save
  4. Publish CalculationCompleted (observers never fail the request)
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Calculation not found
  - 422: Rate table miss under the fail-closed policy
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/ratetable"
	"github.com/warp/icms-refund/report"
	"github.com/warp/icms-refund/stats"
)

// UserHeader carries the caller's identity.
const UserHeader = "X-User-ID"

const (
	scopeAll  = "all"
	scopeMine = "mine"

	maxBodyBytes = 1 << 20

	// maxAsOfLead is how many months past the current one as_of may reach.
	maxAsOfLead = 12
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HandlerConfig lists the handler's dependencies. Store, Calculator and
// Rates are required.
type HandlerConfig struct {
	Store      engine.Store
	Calculator *engine.Calculator
	Rates      *ratetable.Table
	Bus        stats.EventBus    // optional
	Stats      *stats.Aggregator // optional
	Log        *logrus.Logger
	GD1Cutoff  time.Time
	Now        func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store      engine.Store
	calculator *engine.Calculator
	rates      *ratetable.Table
	bus        stats.EventBus
	stats      *stats.Aggregator
	log        *logrus.Logger
	gd1Cutoff  time.Time
	now        func() time.Time
}

// NewHandler creates a new handler, filling defaults for optional fields.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		store:      cfg.Store,
		calculator: cfg.Calculator,
		rates:      cfg.Rates,
		bus:        cfg.Bus,
		stats:      cfg.Stats,
		log:        cfg.Log,
		gd1Cutoff:  cfg.GD1Cutoff,
		now:        cfg.Now,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	if h.gd1Cutoff.IsZero() {
		h.gd1Cutoff = engine.DefaultGD1Cutoff
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// GetEligibility classifies an installation date without calculating.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	installed, err := engine.ParseDate("installation_date", r.URL.Query().Get("installation_date"))
	if err != nil {
		writeInputError(w, err)
		return
	}
	asOf, err := h.asOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeInputError(w, err)
		return
	}

	ref := h.calculator.ReferenceDate()
	class := engine.Classify(installed, h.gd1Cutoff)
	writeJSON(w, http.StatusOK, EligibilityDTO{
		InstallationDate: installed.Format(engine.DateLayout),
		Classification:   string(class),
		Eligible:         class.Eligible(),
		WindowStart:      engine.WindowStart(installed, ref).String(),
		EligibleMonths:   h.calculator.EligibleMonths(installed, asOf),
		ReferenceDate:    ref.Format(engine.DateLayout),
		AsOf:             asOf.Format(engine.DateLayout),
	})
}

// =============================================================================
// CALCULATIONS
// =============================================================================

// CreateCalculation calculates, persists and publishes.
func (h *Handler) CreateCalculation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	in, asOf, ok := h.decodeCalculation(w, r)
	if !ok {
		return
	}

	result, ok := h.calculate(w, in, asOf, started)
	if !ok {
		return
	}

	saved, err := h.save(r.Context(), ownerID(r), in, result, started)
	if err != nil {
		stats.ObserveCalculation(stats.ResultError, 0, time.Since(started))
		h.internalError(w, r, "Failed to save calculation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCalculationDTO(saved, engine.Classify(in.InstallationDate, h.gd1Cutoff), true))
}

// save persists a finished calculation, reads it back with its store
// assigned fields, and publishes CalculationCompleted.
func (h *Handler) save(ctx context.Context, owner string, in engine.CalculationInput, result engine.CalculationResult, started time.Time) (engine.Record, error) {
	id, err := h.store.Save(ctx, engine.Record{OwnerID: owner, Input: in, Result: result})
	if err != nil {
		return engine.Record{}, err
	}
	saved, err := h.store.Get(ctx, id)
	if err != nil {
		return engine.Record{}, fmt.Errorf("reload %s: %w", id, err)
	}

	took := time.Since(started)
	stats.ObserveCalculation(stats.ResultSuccess, saved.Result.MonthsCount, took)
	h.publish(ctx, stats.NewCalculationCompleted(saved, engine.Classify(in.InstallationDate, h.gd1Cutoff), took))

	h.log.WithFields(logrus.Fields{
		"request_id":     middleware.GetReqID(ctx),
		"calculation_id": id,
		"owner_id":       saved.OwnerID,
		"months":         saved.Result.MonthsCount,
	}).Info("calculation saved")
	return saved, nil
}

// PreviewCalculation calculates without persisting or publishing.
func (h *Handler) PreviewCalculation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	in, asOf, ok := h.decodeCalculation(w, r)
	if !ok {
		return
	}

	result, ok := h.calculate(w, in, asOf, started)
	if !ok {
		return
	}
	stats.ObserveCalculation(stats.ResultSuccess, result.MonthsCount, time.Since(started))

	rec := engine.Record{Input: in, Result: result}
	writeJSON(w, http.StatusOK, toCalculationDTO(rec, engine.Classify(in.InstallationDate, h.gd1Cutoff), true))
}

// ListCalculations returns history newest first, without details.
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	filter, scope, ok := scopeFilter(w, r)
	if !ok {
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "Failed to list calculations", err)
		return
	}

	dtos := make([]CalculationDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toCalculationDTO(rec, engine.Classify(rec.Input.InstallationDate, h.gd1Cutoff), false))
	}
	h.log.WithFields(logrus.Fields{"scope": scope, "count": len(dtos)}).Debug("calculations listed")
	writeJSON(w, http.StatusOK, dtos)
}

// GetCalculation returns one record with its monthly details.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(rec, engine.Classify(rec.Input.InstallationDate, h.gd1Cutoff), true))
}

// =============================================================================
// REPORTS
// =============================================================================

// GetReportPDF streams the PDF report of a record.
func (h *Handler) GetReportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, report.FormatPDF, report.ContentTypePDF, report.BuildPDF)
}

// GetReportXLSX streams the XLSX report of a record.
func (h *Handler) GetReportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, report.FormatXLSX, report.ContentTypeXLSX, report.BuildXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(engine.Record) ([]byte, error)) {
	started := time.Now()
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	body, err := build(rec)
	if err != nil {
		stats.ObserveReportExport(format, stats.ResultError, time.Since(started))
		h.internalError(w, r, "Failed to render report", err)
		return
	}
	stats.ObserveReportExport(format, stats.ResultSuccess, time.Since(started))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(rec, format)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// =============================================================================
// DASHBOARD
// =============================================================================

// GetStats returns stored totals for the scope plus running totals since
// process start.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	filter, scope, ok := scopeFilter(w, r)
	if !ok {
		return
	}

	summary, err := h.store.Summarize(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "Failed to summarize calculations", err)
		return
	}

	resp := StatsDTO{Stored: toSummaryDTO(scope, summary)}
	if h.stats != nil {
		resp.Running = toRunningStatsDTO(h.stats.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRates returns the rate table in use.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toRateTableDTO(h.rates, h.calculator.MissPolicy()))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeCalculation turns the request body into engine input. It writes
// the error response itself and reports whether to continue.
func (h *Handler) decodeCalculation(w http.ResponseWriter, r *http.Request) (engine.CalculationInput, time.Time, bool) {
	var req CalculationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		stats.ObserveCalculation(stats.ResultInvalid, 0, 0)
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return engine.CalculationInput{}, time.Time{}, false
	}

	in, err := req.toInput()
	if err != nil {
		stats.ObserveCalculation(stats.ResultInvalid, 0, 0)
		writeInputError(w, err)
		return engine.CalculationInput{}, time.Time{}, false
	}

	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		stats.ObserveCalculation(stats.ResultInvalid, 0, 0)
		writeInputError(w, err)
		return engine.CalculationInput{}, time.Time{}, false
	}
	return in, asOf, true
}

func (req CalculationRequest) toInput() (engine.CalculationInput, error) {
	supply, err := engine.ParseSupplyType(req.SupplyType)
	if err != nil {
		return engine.CalculationInput{}, err
	}
	if req.InjectedEnergyKWh == nil {
		return engine.CalculationInput{}, &engine.InputError{Field: "injected_energy_kwh", Reason: "required"}
	}
	if req.ConsumptionKWh == nil {
		return engine.CalculationInput{}, &engine.InputError{Field: "consumption_kwh", Reason: "required"}
	}
	installed, err := engine.ParseDate("installation_date", req.InstallationDate)
	if err != nil {
		return engine.CalculationInput{}, err
	}

	in := engine.CalculationInput{
		SupplyType:        supply,
		InjectedEnergyKWh: *req.InjectedEnergyKWh,
		ConsumptionKWh:    *req.ConsumptionKWh,
		InstallationDate:  installed,
		ClientName:        strings.TrimSpace(req.ClientName),
	}
	return in, in.Validate()
}

// calculate runs the engine and maps its errors onto responses.
func (h *Handler) calculate(w http.ResponseWriter, in engine.CalculationInput, asOf time.Time, started time.Time) (engine.CalculationResult, bool) {
	result, err := h.calculator.Calculate(in, asOf)
	if err != nil {
		h.writeCalculationError(w, err, started)
		return engine.CalculationResult{}, false
	}
	return result, true
}

// writeCalculationError answers an engine failure: 400 for bad input, 422
// for an uncovered rate month under fail-closed, 500 otherwise.
func (h *Handler) writeCalculationError(w http.ResponseWriter, err error, started time.Time) {
	switch {
	case engine.IsClientError(err):
		stats.ObserveCalculation(stats.ResultInvalid, 0, time.Since(started))
		writeInputError(w, err)
	case engine.IsRateMiss(err):
		stats.ObserveCalculation(stats.ResultRateMiss, 0, time.Since(started))
		resp := ErrorResponse{
			Error:   "Rate table does not cover the correction window",
			Code:    "rate_lookup_miss",
			Details: err.Error(),
		}
		var miss *engine.RateMissError
		if errors.As(err, &miss) {
			resp.Details = map[string]string{"month": engine.NewMonth(miss.Year, miss.Month).String()}
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		stats.ObserveCalculation(stats.ResultError, 0, time.Since(started))
		h.log.WithError(err).Error("calculation failed")
		writeError(w, http.StatusInternalServerError, "Calculation failed", err)
	}
}

func (h *Handler) loadRecord(w http.ResponseWriter, r *http.Request) (engine.Record, bool) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if engine.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Calculation not found", nil)
		return engine.Record{}, false
	}
	if err != nil {
		h.internalError(w, r, "Failed to get calculation", err)
		return engine.Record{}, false
	}
	return rec, true
}

func (h *Handler) publish(ctx context.Context, event any) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		h.log.WithError(err).WithField("event", stats.EventType(event)).Warn("event subscriber failed")
	}
}

// asOf parses an optional YYYY-MM-DD, defaulting to today. It may reach at
// most maxAsOfLead months ahead, which bounds the correction window.
func (h *Handler) asOf(value string) (time.Time, error) {
	now := h.now().UTC()
	if value == "" {
		return now, nil
	}
	asOf, err := engine.ParseDate("as_of", value)
	if err != nil {
		return time.Time{}, err
	}
	if limit := engine.MonthOf(now).AddMonths(maxAsOfLead); engine.MonthOf(asOf).After(limit) {
		return time.Time{}, &engine.InputError{Field: "as_of", Reason: fmt.Sprintf("must not be later than %s", limit)}
	}
	return asOf, nil
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error(message)
	writeError(w, http.StatusInternalServerError, message, err)
}

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func scopeFilter(w http.ResponseWriter, r *http.Request) (engine.ListFilter, string, bool) {
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "", scopeAll:
		return engine.ListFilter{}, scopeAll, true
	case scopeMine:
		owner := ownerID(r)
		if owner == "" {
			writeError(w, http.StatusBadRequest, "scope=mine requires the "+UserHeader+" header", nil)
			return engine.ListFilter{}, "", false
		}
		return engine.ListFilter{OwnerID: owner}, scopeMine, true
	default:
		writeError(w, http.StatusBadRequest, "Invalid scope (use all or mine)", nil)
		return engine.ListFilter{}, "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeInputError names the offending field when the engine reported one.
func writeInputError(w http.ResponseWriter, err error) {
	var inErr *engine.InputError
	if errors.As(err, &inErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid input",
			Code:    "invalid_input",
			Details: map[string]string{"field": inErr.Field, "reason": inErr.Reason},
		})
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid input", err)
}

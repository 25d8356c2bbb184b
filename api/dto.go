/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's exact decimal model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Money is rounded to cents and rates to six places only here, at the
  boundary. Everything behind the API stays exact.

PRESENCE:
  Quantities are pointers so that a missing field can be told apart from
  an explicit 0. Zero consumption is valid; an absent one is not.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/ratetable"
	"github.com/warp/icms-refund/stats"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CalculationRequest is the body of POST /api/calculations and /preview.
type CalculationRequest struct {
	SupplyType        string `json:"supply_type"`
	InjectedEnergyKWh *int64 `json:"injected_energy_kwh"`
	ConsumptionKWh    *int64 `json:"consumption_kwh"`
	InstallationDate  string `json:"installation_date"` // YYYY-MM-DD
	ClientName        string `json:"client_name,omitempty"`
	AsOf              string `json:"as_of,omitempty"` // YYYY-MM-DD, default today
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// MonthlyDetailDTO is one eligible month.
type MonthlyDetailDTO struct {
	MonthYear            string  `json:"month_year"` // YYYY-MM
	CompensatedEnergyKWh int64   `json:"compensated_energy_kwh"`
	BaseValue            float64 `json:"base_value"`
	CorrectedValue       float64 `json:"corrected_value"`
	Correction           float64 `json:"correction"`
	EffectiveRate        float64 `json:"effective_rate"`
}

// CalculationDTO is a calculation result, stored or previewed.
type CalculationDTO struct {
	ID                   string             `json:"id,omitempty"`
	OwnerID              string             `json:"owner_id,omitempty"`
	ClientName           string             `json:"client_name,omitempty"`
	SupplyType           string             `json:"supply_type"`
	InjectedEnergyKWh    int64              `json:"injected_energy_kwh"`
	ConsumptionKWh       int64              `json:"consumption_kwh"`
	InstallationDate     string             `json:"installation_date"`
	Classification       string             `json:"classification"`
	WindowStart          string             `json:"window_start,omitempty"`
	MonthsCount          int                `json:"months_count"`
	TotalBaseValue       float64            `json:"total_base_value"`
	TotalCorrectedValue  float64            `json:"total_corrected_value"`
	FinalIndemnification float64            `json:"final_indemnification"`
	CreatedAt            string             `json:"created_at,omitempty"`
	Details              []MonthlyDetailDTO `json:"details,omitempty"`
}

// EligibilityDTO answers GET /api/eligibility.
type EligibilityDTO struct {
	InstallationDate string `json:"installation_date"`
	Classification   string `json:"classification"`
	Eligible         bool   `json:"eligible"`
	WindowStart      string `json:"window_start"`
	EligibleMonths   int    `json:"eligible_months"`
	ReferenceDate    string `json:"reference_date"`
	AsOf             string `json:"as_of"`
}

// SummaryDTO is the stored-history half of the dashboard.
type SummaryDTO struct {
	Scope                string  `json:"scope"`
	Count                int     `json:"count"`
	TotalBaseValue       float64 `json:"total_base_value"`
	TotalCorrectedValue  float64 `json:"total_corrected_value"`
	TotalIndemnification float64 `json:"total_indemnification"`
}

// RunningStatsDTO is the since-start half of the dashboard.
type RunningStatsDTO struct {
	Calculations         int            `json:"calculations"`
	ByClassification     map[string]int `json:"by_classification"`
	TotalMonths          int            `json:"total_months"`
	TotalIndemnification float64        `json:"total_indemnification"`
	LastCalculationAt    string         `json:"last_calculation_at,omitempty"`
}

// StatsDTO answers GET /api/stats.
type StatsDTO struct {
	Stored  SummaryDTO       `json:"stored"`
	Running *RunningStatsDTO `json:"running,omitempty"`
}

// RateDTO is one published monthly rate.
type RateDTO struct {
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Percent  float64 `json:"percent"`
	Fraction float64 `json:"fraction"`
}

// RateTableDTO answers GET /api/rates.
type RateTableDTO struct {
	Version    string    `json:"version"`
	Index      string    `json:"index"`
	MissPolicy string    `json:"miss_policy"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Rates      []RateDTO `json:"rates"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }
func rate(d decimal.Decimal) float64  { return d.Round(6).InexactFloat64() }

func toMonthlyDetailDTOs(details []engine.MonthlyDetail) []MonthlyDetailDTO {
	dtos := make([]MonthlyDetailDTO, 0, len(details))
	for _, d := range details {
		dtos = append(dtos, MonthlyDetailDTO{
			MonthYear:            d.MonthYear.String(),
			CompensatedEnergyKWh: d.CompensatedEnergyKWh,
			BaseValue:            money(d.BaseValue),
			CorrectedValue:       money(d.CorrectedValue),
			Correction:           money(d.Correction()),
			EffectiveRate:        rate(d.EffectiveRate),
		})
	}
	return dtos
}

func toCalculationDTO(rec engine.Record, class engine.Classification, withDetails bool) CalculationDTO {
	dto := CalculationDTO{
		ID:                   rec.ID,
		OwnerID:              rec.OwnerID,
		ClientName:           rec.Input.ClientName,
		SupplyType:           string(rec.Input.SupplyType),
		InjectedEnergyKWh:    rec.Input.InjectedEnergyKWh,
		ConsumptionKWh:       rec.Input.ConsumptionKWh,
		InstallationDate:     rec.Input.InstallationDate.Format(engine.DateLayout),
		Classification:       string(class),
		MonthsCount:          rec.Result.MonthsCount,
		TotalBaseValue:       money(rec.Result.TotalBaseValue),
		TotalCorrectedValue:  money(rec.Result.TotalCorrectedValue),
		FinalIndemnification: money(rec.Result.FinalIndemnification),
	}
	if rec.Result.MonthsCount > 0 {
		dto.WindowStart = rec.Result.WindowStart.String()
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if withDetails {
		dto.Details = toMonthlyDetailDTOs(rec.Result.Details)
	}
	return dto
}

func toSummaryDTO(scope string, s engine.Summary) SummaryDTO {
	return SummaryDTO{
		Scope:                scope,
		Count:                s.Count,
		TotalBaseValue:       money(s.TotalBaseValue),
		TotalCorrectedValue:  money(s.TotalCorrectedValue),
		TotalIndemnification: money(s.TotalIndemnification),
	}
}

func toRunningStatsDTO(s stats.Snapshot) *RunningStatsDTO {
	dto := &RunningStatsDTO{
		Calculations:         s.Calculations,
		ByClassification:     make(map[string]int, len(s.ByClassification)),
		TotalMonths:          s.TotalMonths,
		TotalIndemnification: money(s.TotalIndemnification),
	}
	for k, v := range s.ByClassification {
		dto.ByClassification[string(k)] = v
	}
	if !s.LastCalculationAt.IsZero() {
		dto.LastCalculationAt = s.LastCalculationAt.Format(time.RFC3339)
	}
	return dto
}

func toRateTableDTO(t *ratetable.Table, policy engine.MissPolicy) RateTableDTO {
	dto := RateTableDTO{
		Version:    t.Version(),
		Index:      t.Index(),
		MissPolicy: string(policy),
		Rates:      make([]RateDTO, 0, t.Len()),
	}
	if first, last, ok := t.Coverage(); ok {
		dto.From = engine.NewMonth(first.Year, first.Month).String()
		dto.To = engine.NewMonth(last.Year, last.Month).String()
	}
	for _, e := range t.Entries() {
		dto.Rates = append(dto.Rates, RateDTO{
			Year:     e.Year,
			Month:    int(e.Month),
			Percent:  e.Rate.InexactFloat64(),
			Fraction: e.Fraction().InexactFloat64(),
		})
	}
	return dto
}

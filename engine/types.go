/*
Package engine provides the ICMS reimbursement calculation engine.

PURPOSE:
  Solar prosumers were charged ICMS on energy that their own injection
  compensated. This package estimates what they are owed: for every
  eligible billing month it computes the tax on the compensated energy,
  corrects that amount forward to today with a monthly price index, sums
  the months and doubles the total as indemnification.

KEY CONCEPTS IN THIS FILE (types.go):
  - SupplyType: Connection type of the installation (single/two/three-phase)
  - CalculationInput: Caller-supplied quantities and installation date
  - MonthlyDetail: One eligible month, base and corrected values
  - CalculationResult: Totals plus the ordered per-month breakdown

DESIGN PRINCIPLES:
  1. Purity: Calculate depends only on its inputs and the rate source
  2. Precision: Uses decimal.Decimal for every monetary value and rate
  3. Zero is normal: no eligible months is a valid, empty result
  4. Immutability: A result is built once and never mutated afterwards

USAGE:
  calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})
  result, err := calc.Calculate(engine.CalculationInput{
      SupplyType:        engine.SupplySinglePhase,
      InjectedEnergyKWh: 1000,
      ConsumptionKWh:    800,
      InstallationDate:  engine.NewMonth(2023, time.March).Time(),
  }, time.Now())

SEE ALSO:
  - eligibility.go: Eligibility window
  - formula.go: Per-month base value
  - correction.go: Compound monetary correction
  - calculator.go: Aggregation
*/
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SUPPLY TYPE
// =============================================================================

type SupplyType string

const (
	SupplySinglePhase SupplyType = "single-phase"
	SupplyTwoPhase    SupplyType = "two-phase"
	SupplyThreePhase  SupplyType = "three-phase"
)

// ParseSupplyType accepts the canonical names plus the Portuguese labels
// used on utility bills (monofasico, bifasico, trifasico).
func ParseSupplyType(s string) (SupplyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single-phase", "single_phase", "monofasico", "monofásico":
		return SupplySinglePhase, nil
	case "two-phase", "two_phase", "bifasico", "bifásico":
		return SupplyTwoPhase, nil
	case "three-phase", "three_phase", "trifasico", "trifásico":
		return SupplyThreePhase, nil
	case "":
		return "", &InputError{Field: "supply_type", Reason: "required"}
	default:
		return "", &InputError{Field: "supply_type", Reason: fmt.Sprintf("unknown supply type %q", s)}
	}
}

func (s SupplyType) Valid() bool {
	return s == SupplySinglePhase || s == SupplyTwoPhase || s == SupplyThreePhase
}

// =============================================================================
// CALCULATION INPUT
// =============================================================================

// MaxEnergyKWh bounds each monthly quantity (1 TWh) so perturbed values
// stay well inside int64.
const MaxEnergyKWh int64 = 1_000_000_000

// CalculationInput is what the caller knows about the installation.
// Energy quantities are monthly averages in whole kWh.
type CalculationInput struct {
	SupplyType        SupplyType
	InjectedEnergyKWh int64
	ConsumptionKWh    int64
	InstallationDate  time.Time
	ClientName        string // optional
}

// Validate checks the input before it enters the engine. Presence of the
// numeric fields is the decoder's job (see api/dto.go); here a zero value
// is a legitimate quantity.
func (in CalculationInput) Validate() error {
	if in.SupplyType == "" {
		return &InputError{Field: "supply_type", Reason: "required"}
	}
	if !in.SupplyType.Valid() {
		return &InputError{Field: "supply_type", Reason: fmt.Sprintf("unknown supply type %q", in.SupplyType)}
	}
	if in.InjectedEnergyKWh < 0 {
		return &InputError{Field: "injected_energy_kwh", Reason: "must not be negative"}
	}
	if in.ConsumptionKWh < 0 {
		return &InputError{Field: "consumption_kwh", Reason: "must not be negative"}
	}
	if in.InjectedEnergyKWh > MaxEnergyKWh {
		return &InputError{Field: "injected_energy_kwh", Reason: fmt.Sprintf("must not exceed %d", MaxEnergyKWh)}
	}
	if in.ConsumptionKWh > MaxEnergyKWh {
		return &InputError{Field: "consumption_kwh", Reason: fmt.Sprintf("must not exceed %d", MaxEnergyKWh)}
	}
	if in.InstallationDate.IsZero() {
		return &InputError{Field: "installation_date", Reason: "required"}
	}
	return nil
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// MonthlyDetail is the breakdown of one eligible month.
type MonthlyDetail struct {
	MonthYear            Month
	BaseValue            decimal.Decimal
	CorrectedValue       decimal.Decimal
	EffectiveRate        decimal.Decimal // CorrectedValue/BaseValue - 1, zero when BaseValue is zero
	CompensatedEnergyKWh int64
}

// Correction returns how much the index added to this month's base.
func (d MonthlyDetail) Correction() decimal.Decimal {
	return d.CorrectedValue.Sub(d.BaseValue)
}

// CalculationResult is produced once per Calculate call.
type CalculationResult struct {
	WindowStart          Month // zero when MonthsCount is zero
	TotalBaseValue       decimal.Decimal
	TotalCorrectedValue  decimal.Decimal
	FinalIndemnification decimal.Decimal // always 2 x TotalCorrectedValue
	MonthsCount          int
	Details              []MonthlyDetail
}

// IndemnityFactor is the legal multiplier applied to the corrected total.
var IndemnityFactor = decimal.NewFromInt(2)

// emptyResult is the zero-month outcome. Details is non-nil so callers can
// range and serialize it without special cases.
func emptyResult() CalculationResult {
	return CalculationResult{
		TotalBaseValue:       decimal.Zero,
		TotalCorrectedValue:  decimal.Zero,
		FinalIndemnification: decimal.Zero,
		Details:              []MonthlyDetail{},
	}
}

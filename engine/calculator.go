/*
calculator.go - Reimbursement calculation

PURPOSE:
  Ties the pieces together. For an installation it determines the
  eligibility window, computes each month's base value, corrects it to
  the present with the rate source and aggregates the months.

ALGORITHM:
  1. Validate input (InputError on failure, nothing computed)
  2. months = EligibleMonths(installation, reference, now)
     months == 0 -> empty result, no error
  3. factors = CorrectionFactors(windowStart, now), one backward pass
  4. For i in [0, months):
       month     = windowStart + i
       base      = BaseValue(perturb(injected), perturb(consumption))
       corrected = base x factors[i]
       rate      = corrected/base - 1 (0 when base is 0)
  5. Totals: sum(base), sum(corrected), final = 2 x sum(corrected)

CONCURRENCY:
  A Calculator holds only read-only configuration. Calculate may be
  called from any number of goroutines. The only shared mutable state is
  inside RandomVariance, which locks its own generator.

SEE ALSO:
  - eligibility.go: Window start and month count
  - formula.go: Base value
  - correction.go: Compounding loop and miss policy
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculatorConfig configures a Calculator. Zero fields take defaults.
type CalculatorConfig struct {
	Rates         RateSource // required
	Params        *Parameters
	ReferenceDate time.Time
	MissPolicy    MissPolicy
	Variance      Variance
}

// Calculator computes reimbursements. Build it with NewCalculator.
type Calculator struct {
	rates         RateSource
	params        Parameters
	referenceDate time.Time
	missPolicy    MissPolicy
	variance      Variance
}

// NewCalculator fills defaults: DefaultParameters, DefaultReferenceDate,
// MissFailOpen and NoVariance.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	c := &Calculator{
		rates:         cfg.Rates,
		params:        DefaultParameters(),
		referenceDate: DefaultReferenceDate,
		missPolicy:    MissFailOpen,
		variance:      NoVariance{},
	}
	if cfg.Params != nil {
		c.params = *cfg.Params
	}
	if !cfg.ReferenceDate.IsZero() {
		c.referenceDate = cfg.ReferenceDate
	}
	if cfg.MissPolicy != "" {
		c.missPolicy = cfg.MissPolicy
	}
	if cfg.Variance != nil {
		c.variance = cfg.Variance
	}
	if c.rates == nil {
		c.rates = noRates{}
	}
	return c
}

func (c *Calculator) Parameters() Parameters   { return c.params }
func (c *Calculator) ReferenceDate() time.Time { return c.referenceDate }
func (c *Calculator) MissPolicy() MissPolicy   { return c.missPolicy }

// EligibleMonths counts eligible months for an installation against the
// calculator's reference date.
func (c *Calculator) EligibleMonths(installationDate, currentDate time.Time) int {
	return EligibleMonths(installationDate, c.referenceDate, currentDate)
}

// Correct compounds base from month `from` to currentDate with the
// calculator's rate source and miss policy.
func (c *Calculator) Correct(base decimal.Decimal, from Month, currentDate time.Time) (decimal.Decimal, error) {
	return Correct(c.rates, c.missPolicy, base, from, currentDate)
}

// Calculate runs the full reimbursement for one installation.
func (c *Calculator) Calculate(in CalculationInput, currentDate time.Time) (CalculationResult, error) {
	if err := in.Validate(); err != nil {
		return CalculationResult{}, err
	}

	months := c.EligibleMonths(in.InstallationDate, currentDate)
	if months == 0 {
		return emptyResult(), nil
	}

	start := WindowStart(in.InstallationDate, c.referenceDate)
	limit := Compensated(in.InjectedEnergyKWh, in.ConsumptionKWh)

	factors, err := CorrectionFactors(c.rates, c.missPolicy, start, currentDate)
	if err != nil {
		return CalculationResult{}, err
	}

	result := CalculationResult{
		WindowStart:         start,
		TotalBaseValue:      decimal.Zero,
		TotalCorrectedValue: decimal.Zero,
		MonthsCount:         months,
		Details:             make([]MonthlyDetail, 0, months),
	}

	for i := 0; i < months; i++ {
		month := start.AddMonths(i)

		compensated := Compensated(
			c.variance.Perturb(in.InjectedEnergyKWh),
			c.variance.Perturb(in.ConsumptionKWh),
		)
		// Perturbation may scale upwards; compensation still cannot exceed
		// what was actually injected or consumed.
		if compensated > limit {
			compensated = limit
		}

		base := c.params.baseForCompensated(compensated)
		corrected := base.Mul(factors[i])

		result.Details = append(result.Details, MonthlyDetail{
			MonthYear:            month,
			BaseValue:            base,
			CorrectedValue:       corrected,
			EffectiveRate:        effectiveRate(base, corrected),
			CompensatedEnergyKWh: compensated,
		})
		result.TotalBaseValue = result.TotalBaseValue.Add(base)
		result.TotalCorrectedValue = result.TotalCorrectedValue.Add(corrected)
	}

	result.FinalIndemnification = result.TotalCorrectedValue.Mul(IndemnityFactor)
	return result, nil
}

// noRates is used when no rate source was configured: every month misses.
type noRates struct{}

func (noRates) Rate(int, time.Month) (decimal.Decimal, bool) { return decimal.Zero, false }

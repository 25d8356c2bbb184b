/*
calculator_test.go - Behavioural tests for the reimbursement engine

Tests are grouped by area:
 1. Reference scenarios with known values
 2. Properties that hold for every result (doubling, month sequence)
 3. Input validation
 4. Rate miss policy
 5. Variance

Each scenario uses GIVEN/WHEN/THEN comments.
*/
package engine_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/ratetable"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// zeroRates publishes 0% for every month of 2020-2026.
func zeroRates(t *testing.T) *ratetable.Table {
	t.Helper()
	var entries []ratetable.Entry
	for y := 2020; y <= 2026; y++ {
		for m := time.January; m <= time.December; m++ {
			entries = append(entries, ratetable.Entry{Year: y, Month: m, Rate: decimal.Zero})
		}
	}
	table, err := ratetable.New("zero", "TEST", entries)
	require.NoError(t, err)
	return table
}

func ratesOf(t *testing.T, entries ...ratetable.Entry) *ratetable.Table {
	t.Helper()
	table, err := ratetable.New("test", "TEST", entries)
	require.NoError(t, err)
	return table
}

func input(injected, consumption int64, installed time.Time) engine.CalculationInput {
	return engine.CalculationInput{
		SupplyType:        engine.SupplySinglePhase,
		InjectedEnergyKWh: injected,
		ConsumptionKWh:    consumption,
		InstallationDate:  installed,
	}
}

// =============================================================================
// REFERENCE SCENARIOS
// =============================================================================

func TestCalculate_SixMonthsZeroRates(t *testing.T) {
	// GIVEN: Installation before the June 2024 reference, 1000 kWh injected,
	//        800 kWh consumed, all rates 0%
	// WHEN: Calculating in December 2024 (six months after the reference)
	// THEN: Six months of 177.2 each, uncorrected, doubled to 2126.4

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: zeroRates(t)})

	result, err := calc.Calculate(input(1000, 800, date(2023, time.March, 10)), date(2024, time.December, 15))
	require.NoError(t, err)

	assert.Equal(t, 6, result.MonthsCount)
	require.Len(t, result.Details, 6)
	assert.Equal(t, engine.NewMonth(2024, time.June), result.WindowStart)

	for i, d := range result.Details {
		assertDec(t, "177.2", d.BaseValue)
		assertDec(t, "177.2", d.CorrectedValue)
		assert.True(t, d.EffectiveRate.IsZero(), "month %d rate", i)
		assert.Equal(t, int64(800), d.CompensatedEnergyKWh)
	}
	assertDec(t, "1063.2", result.TotalBaseValue)
	assertDec(t, "1063.2", result.TotalCorrectedValue)
	assertDec(t, "2126.4", result.FinalIndemnification)
}

func TestCalculate_InstallationAfterReference(t *testing.T) {
	// GIVEN: Installation in September 2024, after the reference date
	// WHEN: Calculating in January 2025
	// THEN: The window starts at the installation month, not the reference

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: zeroRates(t)})

	result, err := calc.Calculate(input(500, 500, date(2024, time.September, 20)), date(2025, time.January, 5))
	require.NoError(t, err)

	assert.Equal(t, engine.NewMonth(2024, time.September), result.WindowStart)
	assert.Equal(t, 4, result.MonthsCount)
	assert.Equal(t, engine.NewMonth(2024, time.September), result.Details[0].MonthYear)
	assert.Equal(t, engine.NewMonth(2024, time.December), result.Details[3].MonthYear)
}

func TestCalculate_ZeroConsumption(t *testing.T) {
	// GIVEN: No consumption, so nothing was compensated
	// THEN: Every month is zero, including the effective rate

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})

	result, err := calc.Calculate(input(1000, 0, date(2023, time.March, 10)), date(2024, time.December, 15))
	require.NoError(t, err)

	require.Equal(t, 6, result.MonthsCount)
	for _, d := range result.Details {
		assert.True(t, d.BaseValue.IsZero())
		assert.True(t, d.CorrectedValue.IsZero())
		assert.True(t, d.EffectiveRate.IsZero())
		assert.Equal(t, int64(0), d.CompensatedEnergyKWh)
	}
	assert.True(t, result.FinalIndemnification.IsZero())
}

func TestCorrect_SingleMonthOnePercent(t *testing.T) {
	// GIVEN: A single covered month at 1%
	// WHEN: Correcting 100 over that one month
	// THEN: 101.00

	rates := ratesOf(t, ratetable.Entry{Year: 2024, Month: time.January, Rate: dec("1")})

	got, err := engine.Correct(rates, engine.MissFailOpen, dec("100"), engine.NewMonth(2024, time.January), date(2024, time.February, 10))
	require.NoError(t, err)
	assertDec(t, "101.00", got)
}

func TestCorrect_Compounds(t *testing.T) {
	// GIVEN: Two months at 1%
	// THEN: 100 -> 101 -> 102.01 (compound, not 102)

	rates := ratesOf(t,
		ratetable.Entry{Year: 2024, Month: time.January, Rate: dec("1")},
		ratetable.Entry{Year: 2024, Month: time.February, Rate: dec("1")},
	)

	got, err := engine.Correct(rates, engine.MissFailOpen, dec("100"), engine.NewMonth(2024, time.January), date(2024, time.March, 1))
	require.NoError(t, err)
	assertDec(t, "102.01", got)
}

func TestCorrect_StopsBeforeTargetMonth(t *testing.T) {
	rates := ratesOf(t, ratetable.Entry{Year: 2024, Month: time.March, Rate: dec("5")})

	// Same month: nothing to compound.
	got, err := engine.Correct(rates, engine.MissFailOpen, dec("100"), engine.NewMonth(2024, time.March), date(2024, time.March, 31))
	require.NoError(t, err)
	assertDec(t, "100", got)

	// Target before start: loop never runs.
	got, err = engine.Correct(rates, engine.MissFailOpen, dec("100"), engine.NewMonth(2024, time.March), date(2023, time.January, 1))
	require.NoError(t, err)
	assertDec(t, "100", got)
}

func TestCalculate_IPCACorrectionPerMonth(t *testing.T) {
	// GIVEN: The embedded IPCA table; June, July, August 2024 eligible
	//        (0.21%, 0.38%, 0.02%)
	// WHEN: Calculating on 1 September 2024
	// THEN: Each month compounds its own rate and every later one

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})

	result, err := calc.Calculate(input(1000, 800, date(2022, time.May, 2)), date(2024, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, 3, result.MonthsCount)

	base := dec("177.2")
	june := base.Mul(dec("1.0021")).Mul(dec("1.0038")).Mul(dec("1.0002"))
	july := base.Mul(dec("1.0038")).Mul(dec("1.0002"))
	august := base.Mul(dec("1.0002"))

	assert.True(t, june.Equal(result.Details[0].CorrectedValue))
	assert.True(t, july.Equal(result.Details[1].CorrectedValue))
	assert.True(t, august.Equal(result.Details[2].CorrectedValue))
	assertDec(t, "0.0002", result.Details[2].EffectiveRate)

	total := june.Add(july).Add(august)
	assert.True(t, total.Equal(result.TotalCorrectedValue))
	assert.True(t, total.Mul(dec("2")).Equal(result.FinalIndemnification))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCalculate_Idempotent(t *testing.T) {
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})
	in := input(1200, 950, date(2023, time.February, 14))
	now := date(2024, time.December, 20)

	first, err := calc.Calculate(in, now)
	require.NoError(t, err)
	second, err := calc.Calculate(in, now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCalculate_MonotonicInConsumption(t *testing.T) {
	// GIVEN: Injection fixed at 1000 kWh
	// THEN: Raising consumption raises the base until it reaches injection,
	//       then has no further effect

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})
	installed := date(2023, time.June, 1)
	now := date(2024, time.November, 3)

	var previous decimal.Decimal
	for consumption := int64(100); consumption <= 1000; consumption += 100 {
		r, err := calc.Calculate(input(1000, consumption, installed), now)
		require.NoError(t, err)
		if consumption > 100 {
			assert.True(t, r.TotalBaseValue.GreaterThan(previous), "consumption %d", consumption)
		}
		previous = r.TotalBaseValue
	}

	for _, consumption := range []int64{1001, 1500, 50000} {
		r, err := calc.Calculate(input(1000, consumption, installed), now)
		require.NoError(t, err)
		assert.True(t, r.TotalBaseValue.Equal(previous), "consumption %d must be capped by injection", consumption)
	}
}

func TestCalculate_Invariants(t *testing.T) {
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})
	now := date(2024, time.December, 31)

	cases := []engine.CalculationInput{
		input(1000, 800, date(2020, time.January, 1)),
		input(300, 900, date(2024, time.July, 31)),
		input(0, 0, date(2024, time.February, 29)),
		input(7, 3, date(2024, time.November, 1)),
	}

	for _, in := range cases {
		r, err := calc.Calculate(in, now)
		require.NoError(t, err)

		assert.Equal(t, r.MonthsCount, len(r.Details))

		sum := decimal.Zero
		for i, d := range r.Details {
			sum = sum.Add(d.CorrectedValue)
			assert.LessOrEqual(t, d.CompensatedEnergyKWh, engine.Compensated(in.InjectedEnergyKWh, in.ConsumptionKWh))
			if i > 0 {
				assert.Equal(t, r.Details[i-1].MonthYear.AddMonths(1), d.MonthYear, "months must be consecutive")
			}
		}
		assert.True(t, sum.Mul(dec("2")).Equal(r.FinalIndemnification))
		assert.True(t, r.TotalCorrectedValue.Mul(dec("2")).Equal(r.FinalIndemnification))
	}
}

func TestCalculate_ZeroRateNeutrality(t *testing.T) {
	// GIVEN: A rate source with no entries at all (every lookup misses)
	// THEN: Under the default fail-open policy, corrected == base

	empty, err := ratetable.New("empty", "TEST", nil)
	require.NoError(t, err)
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: empty})

	r, err := calc.Calculate(input(640, 720, date(2021, time.August, 8)), date(2025, time.March, 1))
	require.NoError(t, err)
	require.NotZero(t, r.MonthsCount)
	for _, d := range r.Details {
		assert.True(t, d.BaseValue.Equal(d.CorrectedValue))
	}
}

func TestCalculate_NotYetEligible(t *testing.T) {
	// GIVEN: Current date in the reference month itself
	// THEN: Zero months, empty (non-nil) details, no error

	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})

	r, err := calc.Calculate(input(1000, 800, date(2023, time.March, 10)), date(2024, time.June, 20))
	require.NoError(t, err)
	assert.Equal(t, 0, r.MonthsCount)
	assert.NotNil(t, r.Details)
	assert.Empty(t, r.Details)
	assert.True(t, r.FinalIndemnification.IsZero())

	// Current date before installation.
	r, err = calc.Calculate(input(1000, 800, date(2025, time.March, 10)), date(2025, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, r.MonthsCount)
}

func TestCalculate_CustomParameters(t *testing.T) {
	params := engine.Parameters{TariffShare: dec("0.5"), WireBShare: dec("0.5"), TaxRate: dec("0.1")}
	calc := engine.NewCalculator(engine.CalculatorConfig{
		Rates:         zeroRates(t),
		Params:        &params,
		ReferenceDate: date(2024, time.January, 1),
	})

	r, err := calc.Calculate(input(100, 100, date(2023, time.January, 1)), date(2024, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, r.MonthsCount)
	assertDec(t, "10", r.Details[0].BaseValue)
	assertDec(t, "40", r.FinalIndemnification)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCalculate_InvalidInput(t *testing.T) {
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})
	now := date(2024, time.December, 1)

	cases := map[string]struct {
		in    engine.CalculationInput
		field string
	}{
		"negative injection":    {input(-1, 10, date(2023, 1, 10)), "injected_energy_kwh"},
		"negative consumption":  {input(10, -5, date(2023, 1, 10)), "consumption_kwh"},
		"missing date":          {input(10, 10, time.Time{}), "installation_date"},
		"injection too large":   {input(engine.MaxEnergyKWh+1, 10, date(2023, 1, 10)), "injected_energy_kwh"},
		"consumption too large": {input(10, math.MaxInt64, date(2023, 1, 10)), "consumption_kwh"},
		"missing supply type": {engine.CalculationInput{
			InjectedEnergyKWh: 1, ConsumptionKWh: 1, InstallationDate: date(2023, 1, 10),
		}, "supply_type"},
		"unknown supply type": {engine.CalculationInput{
			SupplyType: "four-phase", InjectedEnergyKWh: 1, ConsumptionKWh: 1, InstallationDate: date(2023, 1, 10),
		}, "supply_type"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := calc.Calculate(tc.in, now)
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrInvalidInput)
			assert.True(t, engine.IsClientError(err))

			var inErr *engine.InputError
			require.ErrorAs(t, err, &inErr)
			assert.Equal(t, tc.field, inErr.Field)
		})
	}
}

func TestParseSupplyType(t *testing.T) {
	for in, want := range map[string]engine.SupplyType{
		"single-phase": engine.SupplySinglePhase,
		"Monofasico":   engine.SupplySinglePhase,
		"bifásico":     engine.SupplyTwoPhase,
		" trifasico ":  engine.SupplyThreePhase,
		"three_phase":  engine.SupplyThreePhase,
	} {
		got, err := engine.ParseSupplyType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := engine.ParseSupplyType("")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = engine.ParseSupplyType("plasma")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

// =============================================================================
// MISS POLICY
// =============================================================================

func TestCalculate_FailClosedRejectsUncoveredMonths(t *testing.T) {
	// GIVEN: The embedded table ends in December 2024
	// WHEN: Correcting through 2025 with the strict policy
	// THEN: The first uncovered month is reported

	calc := engine.NewCalculator(engine.CalculatorConfig{
		Rates:      ratetable.Default(),
		MissPolicy: engine.MissFailClosed,
	})

	_, err := calc.Calculate(input(1000, 800, date(2023, time.March, 10)), date(2025, time.March, 1))
	require.Error(t, err)
	assert.True(t, engine.IsRateMiss(err))
	assert.False(t, engine.IsClientError(err))

	var miss *engine.RateMissError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, 2025, miss.Year)
	assert.Equal(t, time.January, miss.Month)
}

func TestCalculate_FailOpenIgnoresUncoveredMonths(t *testing.T) {
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: ratetable.Default()})

	// December 2024 is the last covered month; January and February 2025
	// contribute no correction.
	r, err := calc.Calculate(input(1000, 800, date(2024, time.December, 1)), date(2025, time.March, 1))
	require.NoError(t, err)
	require.Equal(t, 3, r.MonthsCount)
	assert.True(t, r.Details[0].CorrectedValue.Equal(dec("177.2").Mul(dec("1.0052"))))
	assertDec(t, "177.2", r.Details[1].CorrectedValue)
	assertDec(t, "177.2", r.Details[2].CorrectedValue)
}

// countingRates records every lookup it answers.
type countingRates struct {
	engine.RateSource
	calls int
}

func (c *countingRates) Rate(year int, month time.Month) (decimal.Decimal, bool) {
	c.calls++
	return c.RateSource.Rate(year, month)
}

func TestCalculate_LooksUpEachRateOnce(t *testing.T) {
	// GIVEN: A window of several decades (fail-open past the table)
	// WHEN: Calculating
	// THEN: One lookup per month, not one per month pair

	rates := &countingRates{RateSource: ratetable.Default()}
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: rates})

	r, err := calc.Calculate(input(1000, 800, date(2023, time.March, 10)), date(2100, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, 907, r.MonthsCount)
	assert.Equal(t, r.MonthsCount, rates.calls)
}

func TestCalculate_MatchesPerMonthCorrection(t *testing.T) {
	// GIVEN: The embedded table and a window crossing its end
	// WHEN: Comparing each detail with an independent Correct call
	// THEN: The values are identical

	rates := ratetable.Default()
	calc := engine.NewCalculator(engine.CalculatorConfig{Rates: rates})
	now := date(2025, time.April, 2)

	r, err := calc.Calculate(input(1000, 800, date(2022, time.May, 3)), now)
	require.NoError(t, err)
	require.Equal(t, 10, r.MonthsCount)

	for _, d := range r.Details {
		want, err := engine.Correct(rates, engine.MissFailOpen, d.BaseValue, d.MonthYear, now)
		require.NoError(t, err)
		assert.Truef(t, want.Equal(d.CorrectedValue), "%s: want %s, got %s", d.MonthYear, want, d.CorrectedValue)
	}
}

func TestCorrectionFactors(t *testing.T) {
	rates := ratesOf(t,
		ratetable.Entry{Year: 2024, Month: time.January, Rate: dec("1")},
		ratetable.Entry{Year: 2024, Month: time.March, Rate: dec("2")},
	)

	factors, err := engine.CorrectionFactors(rates, engine.MissFailOpen, engine.NewMonth(2024, time.January), date(2024, time.April, 1))
	require.NoError(t, err)
	require.Len(t, factors, 3)
	assertDec(t, "1.0302", factors[0])
	assertDec(t, "1.02", factors[1])
	assertDec(t, "1.02", factors[2])

	_, err = engine.CorrectionFactors(rates, engine.MissFailClosed, engine.NewMonth(2024, time.January), date(2024, time.April, 1))
	var miss *engine.RateMissError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, time.February, miss.Month)

	factors, err = engine.CorrectionFactors(rates, engine.MissFailClosed, engine.NewMonth(2024, time.April), date(2024, time.April, 1))
	require.NoError(t, err)
	assert.Empty(t, factors)
}

func TestParseMissPolicy(t *testing.T) {
	p, err := engine.ParseMissPolicy("")
	require.NoError(t, err)
	assert.Equal(t, engine.MissFailOpen, p)

	p, err = engine.ParseMissPolicy("fail-closed")
	require.NoError(t, err)
	assert.Equal(t, engine.MissFailClosed, p)

	_, err = engine.ParseMissPolicy("maybe")
	assert.Error(t, err)
}

// =============================================================================
// VARIANCE
// =============================================================================

func TestCalculate_SeededVarianceIsReproducible(t *testing.T) {
	build := func() *engine.Calculator {
		return engine.NewCalculator(engine.CalculatorConfig{
			Rates:    ratetable.Default(),
			Variance: engine.NewRandomVariance(42, engine.DefaultSpread),
		})
	}
	in := input(1000, 800, date(2023, time.March, 10))
	now := date(2024, time.December, 15)

	a, err := build().Calculate(in, now)
	require.NoError(t, err)
	b, err := build().Calculate(in, now)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same seed, same result")
	for _, d := range a.Details {
		assert.LessOrEqual(t, d.CompensatedEnergyKWh, int64(800), "perturbation cannot exceed real compensation")
		assert.GreaterOrEqual(t, d.CompensatedEnergyKWh, int64(640), "at most 20 percent below the average")
	}
}

func TestRandomVariance_Bounds(t *testing.T) {
	v := engine.NewRandomVariance(7, dec("0.2"))
	for i := 0; i < 1000; i++ {
		got := v.Perturb(1000)
		assert.GreaterOrEqual(t, got, int64(800))
		assert.LessOrEqual(t, got, int64(1200))
	}

	wide := engine.NewRandomVariance(7, dec("0.9"))
	for i := 0; i < 100; i++ {
		assert.Positive(t, wide.Perturb(math.MaxInt64), "saturates instead of wrapping")
	}

	flat := engine.NewRandomVariance(7, decimal.Zero)
	assert.Equal(t, int64(1000), flat.Perturb(1000))
	assert.Equal(t, int64(0), v.Perturb(0))
}

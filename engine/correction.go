package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE SOURCE
// =============================================================================

// RateSource supplies monthly index rates as decimal fractions (0.0021 for
// 0.21%). ok is false when the source has no entry for the month.
// ratetable.Table is the production implementation.
type RateSource interface {
	Rate(year int, month time.Month) (rate decimal.Decimal, ok bool)
}

// MissPolicy decides what a month without a rate entry means.
type MissPolicy string

const (
	// MissFailOpen applies no correction for that month (rate 0). Default.
	MissFailOpen MissPolicy = "fail-open"
	// MissFailClosed aborts the calculation with a RateMissError.
	MissFailClosed MissPolicy = "fail-closed"
)

func ParseMissPolicy(s string) (MissPolicy, error) {
	switch MissPolicy(s) {
	case "", MissFailOpen:
		return MissFailOpen, nil
	case MissFailClosed:
		return MissFailClosed, nil
	default:
		return "", fmt.Errorf("unknown rate miss policy %q", s)
	}
}

// =============================================================================
// COMPOUND CORRECTION
// =============================================================================

var one = decimal.NewFromInt(1)

// Correct compounds base forward from the month `from` up to, but not
// including, the month of `to`. Each month multiplies the running value by
// (1 + rate), so corrections apply to already corrected amounts.
func Correct(rates RateSource, policy MissPolicy, base decimal.Decimal, from Month, to time.Time) (decimal.Decimal, error) {
	factors, err := CorrectionFactors(rates, policy, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if len(factors) == 0 {
		return base, nil
	}
	return base.Mul(factors[0]), nil
}

// CorrectionFactors returns one factor per month from `from` up to, but not
// including, the month of `to`. factors[i] is the compound product of
// (1 + rate) over months i..end, so a base starting in month i corrects to
// base * factors[i]. Each rate is looked up once.
//
// Under MissFailClosed the earliest uncovered month is reported.
func CorrectionFactors(rates RateSource, policy MissPolicy, from Month, to time.Time) ([]decimal.Decimal, error) {
	n := MonthsBetween(from, MonthOf(to))
	if n <= 0 {
		return nil, nil
	}

	factors := make([]decimal.Decimal, n)
	for i := range factors {
		month := from.AddMonths(i)
		rate, ok := rates.Rate(month.Year, month.Month)
		if !ok {
			if policy == MissFailClosed {
				return nil, &RateMissError{Year: month.Year, Month: month.Month}
			}
			rate = decimal.Zero
		}
		factors[i] = one.Add(rate)
	}

	acc := one
	for i := n - 1; i >= 0; i-- {
		acc = acc.Mul(factors[i])
		factors[i] = acc
	}
	return factors, nil
}

// effectiveRate is the realized multiplier of a correction, defined as zero
// for a zero base.
func effectiveRate(base, corrected decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return corrected.Div(base).Sub(one)
}

package engine

import (
	"math"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VARIANCE - Optional month-to-month usage perturbation
// =============================================================================

// Variance perturbs a monthly average to simulate month-to-month usage.
// Calculate calls Perturb separately for injection and consumption.
//
// Any implementation other than NoVariance makes results non-deterministic
// unless it is seeded; never use one in golden-value tests.
type Variance interface {
	Perturb(kwh int64) int64
}

// NoVariance returns quantities unchanged. It is the default.
type NoVariance struct{}

func (NoVariance) Perturb(kwh int64) int64 { return kwh }

// DefaultSpread is the ±20% band used when only averages are known.
var DefaultSpread = decimal.RequireFromString("0.20")

// RandomVariance scales each quantity by a uniform factor in
// [1-Spread, 1+Spread) and rounds to whole kWh, saturating at the int64
// range. Safe for concurrent use.
type RandomVariance struct {
	spread float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomVariance seeds its own generator so a run can be reproduced.
func NewRandomVariance(seed int64, spread decimal.Decimal) *RandomVariance {
	return &RandomVariance{
		spread: spread.Abs().InexactFloat64(),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (v *RandomVariance) Perturb(kwh int64) int64 {
	v.mu.Lock()
	u := v.rng.Float64()
	v.mu.Unlock()

	factor := 1 + v.spread*(2*u-1)
	out := math.Round(float64(kwh) * factor)
	switch {
	case out <= 0:
		return 0
	case out >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(out)
}

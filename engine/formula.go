package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REGULATORY PARAMETERS
// =============================================================================

// Parameters are the regulatory constants of the base value formula.
//
//	compensated = min(injected, consumption)
//	base        = compensated*TariffShare*TaxRate + compensated*WireBShare*TaxRate
//
// TariffShare is the part of the tariff that is a gross benefit to the
// prosumer; WireBShare is the distribution ("Fio B") component.
type Parameters struct {
	TariffShare decimal.Decimal
	WireBShare  decimal.Decimal
	TaxRate     decimal.Decimal
}

// DefaultParameters returns the values in force when this engine was written.
func DefaultParameters() Parameters {
	return Parameters{
		TariffShare: decimal.RequireFromString("0.73"),
		WireBShare:  decimal.RequireFromString("0.27"),
		TaxRate:     decimal.RequireFromString("0.2215"),
	}
}

// Validate rejects negative shares and rates outside [0, 1].
func (p Parameters) Validate() error {
	checks := []struct {
		name  string
		value decimal.Decimal
	}{
		{"tariff_share", p.TariffShare},
		{"wire_b_share", p.WireBShare},
		{"tax_rate", p.TaxRate},
	}
	for _, c := range checks {
		if c.value.IsNegative() || c.value.GreaterThan(one) {
			return fmt.Errorf("%w: %s must be within [0, 1], got %s", ErrInvalidParameters, c.name, c.value)
		}
	}
	return nil
}

// =============================================================================
// BASE VALUE
// =============================================================================

// Compensated is the energy offset by injection: it can never exceed either
// the injected or the consumed quantity.
func Compensated(injectedKWh, consumptionKWh int64) int64 {
	if injectedKWh < consumptionKWh {
		return injectedKWh
	}
	return consumptionKWh
}

// BaseValue returns the ICMS charged on one month's compensated energy.
func (p Parameters) BaseValue(injectedKWh, consumptionKWh int64) decimal.Decimal {
	return p.baseForCompensated(Compensated(injectedKWh, consumptionKWh))
}

func (p Parameters) baseForCompensated(compensatedKWh int64) decimal.Decimal {
	cc := decimal.NewFromInt(compensatedKWh)
	grossBenefit := cc.Mul(p.TariffShare)
	taxOnBenefit := grossBenefit.Mul(p.TaxRate)
	wireB := cc.Mul(p.WireBShare)
	taxOnWireB := wireB.Mul(p.TaxRate)
	return taxOnBenefit.Add(taxOnWireB)
}

// BaseValue applies DefaultParameters.
func BaseValue(injectedKWh, consumptionKWh int64) decimal.Decimal {
	return DefaultParameters().BaseValue(injectedKWh, consumptionKWh)
}

// Package billing turns cumulative energy into a utility bill estimate.
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/powerdash/backend/internal/config"
)

// Tariff holds the billing constants. A zero FlatTax selects the variant
// without the flat tax addend.
type Tariff struct {
	RatePerKWh  float64 `json:"rate_per_kwh"`
	FixedCharge float64 `json:"fixed_charge"`
	FACRate     float64 `json:"fac_rate"`
	TaxRate     float64 `json:"tax_rate"`
	FlatTax     float64 `json:"flat_tax"`
}

// DefaultTariff is the utility tariff the meter was deployed under.
func DefaultTariff() Tariff {
	return Tariff{
		RatePerKWh:  6.75,
		FixedCharge: 50,
		FACRate:     0.05,
		TaxRate:     0.09,
		FlatTax:     50,
	}
}

// TariffFromConfig builds a Tariff from the tariff config section.
func TariffFromConfig(cfg *config.TariffConfig) Tariff {
	return Tariff{
		RatePerKWh:  cfg.RatePerKWh,
		FixedCharge: cfg.FixedCharge,
		FACRate:     cfg.FACRate,
		TaxRate:     cfg.TaxRate,
		FlatTax:     cfg.FlatTax,
	}
}

// Breakdown is the six-field bill derived from one energy value.
type Breakdown struct {
	EnergyKWh    float64 `json:"energy_kwh"`
	EnergyCharge float64 `json:"energy_charge"`
	FixedCharge  float64 `json:"fixed_charge"`
	Subtotal     float64 `json:"subtotal"`
	FAC          float64 `json:"fuel_adjustment_charge"`
	Tax          float64 `json:"tax"`
	Total        float64 `json:"total"`
}

// Compute applies the tariff to energyKWh. Negative energy is billed as zero.
func (t Tariff) Compute(energyKWh float64) Breakdown {
	if energyKWh < 0 {
		energyKWh = 0
	}

	energyCharge := energyKWh * t.RatePerKWh
	subtotal := energyCharge + t.FixedCharge
	fac := subtotal * t.FACRate
	tax := subtotal*t.TaxRate + t.FlatTax

	return Breakdown{
		EnergyKWh:    energyKWh,
		EnergyCharge: energyCharge,
		FixedCharge:  t.FixedCharge,
		Subtotal:     subtotal,
		FAC:          fac,
		Tax:          tax,
		Total:        subtotal + fac + tax,
	}
}

// Rounded returns a copy rounded half away from zero to two decimals.
func (b Breakdown) Rounded() Breakdown {
	return Breakdown{
		EnergyKWh:    round2(b.EnergyKWh),
		EnergyCharge: round2(b.EnergyCharge),
		FixedCharge:  round2(b.FixedCharge),
		Subtotal:     round2(b.Subtotal),
		FAC:          round2(b.FAC),
		Tax:          round2(b.Tax),
		Total:        round2(b.Total),
	}
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

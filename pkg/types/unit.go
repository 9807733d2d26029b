package types

import (
	"fmt"
	"math"
)

// Unit is the energy unit sensors are displayed in.
type Unit string

const (
	UnitKWh Unit = "kWh"
	UnitMWh Unit = "MWh"

	// UnitDKKPerKWh is only used by the tariff sensor and is never converted.
	UnitDKKPerKWh Unit = "DKK/kWh"
)

// DefaultUnit is used when an entry doesn't specify one.
const DefaultUnit = UnitKWh

// ParseUnit returns the energy unit for s. An empty string yields the default.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "":
		return DefaultUnit, nil
	case UnitKWh, UnitMWh:
		return Unit(s), nil
	default:
		return "", fmt.Errorf("unsupported unit of measurement: %q", s)
	}
}

// FromKWh converts a kWh value into u. MWh values are rounded to 3 decimals.
func (u Unit) FromKWh(kwh float64) float64 {
	if u == UnitMWh {
		return Round(kwh/1000, 3)
	}
	return kwh
}

// Round rounds v to the given number of decimals, half away from zero.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

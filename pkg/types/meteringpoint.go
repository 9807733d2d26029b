package types

import (
	"errors"
	"fmt"
)

// MeteringPointLength is the number of digits in a Danish metering point ID
// (GSRN number).
const MeteringPointLength = 18

// ErrInvalidMeteringPoint is returned when a metering point is malformed.
var ErrInvalidMeteringPoint = errors.New("invalid metering point")

// ValidateMeteringPoint ensures mp is exactly 18 ASCII digits.
func ValidateMeteringPoint(mp string) error {
	if len(mp) != MeteringPointLength {
		return fmt.Errorf("%w: %q must be %d digits", ErrInvalidMeteringPoint, mp, MeteringPointLength)
	}
	for i := 0; i < len(mp); i++ {
		if mp[i] < '0' || mp[i] > '9' {
			return fmt.Errorf("%w: %q must only contain digits", ErrInvalidMeteringPoint, mp)
		}
	}
	return nil
}

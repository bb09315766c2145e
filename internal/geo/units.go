package geo

import (
	"fmt"
	"strings"
)

// Unit is a speed unit.
type Unit string

const (
	MPS  Unit = "mps"
	MPH  Unit = "mph"
	KMPH Unit = "kmph"
)

// Conversion factors from meters per second.
const (
	mpsToMPH  = 2.237
	mpsToKMPH = 3.6

	// MPHToMPS converts miles per hour to meters per second.
	MPHToMPS = 0.44704
)

// Convert converts a speed in m/s to the given unit. Unknown units return
// the input unchanged.
func Convert(mps float64, u Unit) float64 {
	switch u {
	case MPH:
		return mps * mpsToMPH
	case KMPH:
		return mps * mpsToKMPH
	default:
		return mps
	}
}

// ParseUnit accepts the common spellings of the supported units.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mps", "m/s", "ms":
		return MPS, nil
	case "mph":
		return MPH, nil
	case "kmph", "kph", "km/h", "kmh":
		return KMPH, nil
	}
	return "", fmt.Errorf("unknown speed unit %q (valid: mps, mph, kmph)", s)
}

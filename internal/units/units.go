// Package units provides shared constants and conversions for launch metrics.
package units

import "math"

// Speed unit constants
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, MPH, KPH}

// IsValidSpeedUnit checks if the given unit is in the list of valid units
func IsValidSpeedUnit(unit string) bool {
	for _, u := range ValidSpeedUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// The solver works in m/s internally.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694 // m/s to mph
	case KPH:
		return speedMPS * 3.6 // m/s to km/h
	case MPS:
		return speedMPS
	default:
		return speedMPS // default to m/s if unknown unit
	}
}

// MetersToYards converts meters to yards.
func MetersToYards(m float64) float64 {
	return m * 1.0936133
}

// DegreesToRadians converts an angle in degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadiansToDegrees converts an angle in radians to degrees.
func RadiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// RadPerSecToRPM converts an angular rate in radians/second to revolutions
// per minute. Spin rates are reported in rpm.
func RadPerSecToRPM(radPerSec float64) float64 {
	return radPerSec * 60.0 / (2.0 * math.Pi)
}

// RPMToRadPerSec converts revolutions per minute to radians/second.
func RPMToRadPerSec(rpm float64) float64 {
	return rpm * 2.0 * math.Pi / 60.0
}

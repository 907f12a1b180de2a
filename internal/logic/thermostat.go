package logic

import (
	"fmt"
	"math"
	"strings"
)

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 {
	return c*9/5 + 32
}

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 {
	return (f - 32) * 5 / 9
}

// ParseUnit accepts "C", "F" (any case) or empty, which means Celsius.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "C":
		return Celsius, nil
	case "F":
		return Fahrenheit, nil
	default:
		return "", fmt.Errorf("unknown temperature unit %q", s)
	}
}

// ToCelsius normalizes a value reported in unit u.
func ToCelsius(v float64, u Unit) float64 {
	if u == Fahrenheit {
		return FToC(v)
	}
	return v
}

// ToFahrenheit returns a reading reported in unit u in °F. Readings
// already in °F are returned untouched.
func ToFahrenheit(v float64, u Unit) float64 {
	if u == Fahrenheit {
		return v
	}
	return CToF(v)
}

// ThresholdF returns the °F threshold for a Celsius threshold, rounded
// the same way it is displayed and persisted.
func ThresholdF(thresholdC float64) float64 {
	return RoundHundredths(CToF(thresholdC))
}

// BelowThreshold reports whether a reading should start a heating cycle.
// Both values are °F and the comparison is strict: a reading equal to the
// threshold does not heat.
func BelowThreshold(readingF, thresholdF float64) bool {
	return readingF < thresholdF
}

// ValidTemperature rejects NaN and infinities.
func ValidTemperature(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SensorTrigger returns the trigger label for a cycle started by a sensor.
func SensorTrigger(name string) string {
	return triggerSensorPrefix + name
}

// RoundHundredths rounds v to two decimal places for presentation and
// persistence, hiding float noise from unit round trips.
func RoundHundredths(v float64) float64 {
	return math.Round(v*100) / 100
}

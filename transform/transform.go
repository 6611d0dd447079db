// Package transform holds the pure unit conversions applied by pipelines.
package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/mklimuk/sensorpipe"
)

// ZeroCelsius is 0°C expressed in Kelvin.
const ZeroCelsius = 273.15

// CelsiusToKelvin converts a temperature in degrees Celsius to Kelvin, the
// unit Signal K uses for every temperature. No clamping is applied.
func CelsiusToKelvin(c float64) float64 {
	return c + ZeroCelsius
}

func KelvinToCelsius(k float64) float64 {
	return k - ZeroCelsius
}

// PercentToRatio converts %RH into the 0..1 ratio used for relative humidity.
func PercentToRatio(p float64) float64 {
	return p / 100
}

func Scale(factor float64) sensorpipe.Transform {
	return func(v float64) float64 {
		return v * factor
	}
}

func Offset(delta float64) sensorpipe.Transform {
	return func(v float64) float64 {
		return v + delta
	}
}

// MaxRoundDecimals is the precision limit of a float64 fraction.
const MaxRoundDecimals = 15

// Round rounds to the given number of decimal places.
func Round(decimals int) sensorpipe.Transform {
	pow := math.Pow(10, float64(decimals))
	return func(v float64) float64 {
		return math.Round(v*pow) / pow
	}
}

// ByName resolves a transform referenced from configuration. arg is only
// used by parameterized transforms (scale, offset, round).
func ByName(name string, arg float64) (sensorpipe.Transform, error) {
	switch strings.ToLower(name) {
	case "kelvin", "celsius-to-kelvin":
		return CelsiusToKelvin, nil
	case "celsius", "kelvin-to-celsius":
		return KelvinToCelsius, nil
	case "ratio", "percent-to-ratio":
		return PercentToRatio, nil
	case "scale":
		return Scale(arg), nil
	case "offset":
		return Offset(arg), nil
	case "round":
		if arg < 0 || arg > MaxRoundDecimals || arg != math.Trunc(arg) {
			return nil, sensorpipe.ConfigError("round: decimals must be an integer in [0, %d], got %v", MaxRoundDecimals, arg)
		}
		return Round(int(arg)), nil
	}
	return nil, sensorpipe.ConfigError("unknown transform %q", name)
}

// MustByName is ByName for static tables.
func MustByName(name string, arg float64) sensorpipe.Transform {
	t, err := ByName(name, arg)
	if err != nil {
		panic(fmt.Sprintf("transform: %v", err))
	}
	return t
}

package environment

import (
	"context"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorpipe"
)

type TemperatureSensor interface {
	GetTemperature(ctx context.Context) (float32, error)
}

type HumiditySensor interface {
	GetHumidity(ctx context.Context) (float32, error)
}

type LightSensor interface {
	GetLux(ctx context.Context) (int, error)
}

// EnvSensor is the sensing half of periph's physic.SenseEnv, implemented by
// the drivers in periph.io/x/devices.
type EnvSensor interface {
	Sense(env *physic.Env) error
}

// Range bounds the values a source accepts. Readings outside of it are
// reported as sensorpipe.ErrInvalidReading.
type Range struct {
	Min float64
	Max float64
}

// Sensor operating ranges from the datasheets.
var (
	TemperatureRangeBMP280  = Range{Min: -40, Max: 85}
	TemperatureRangeTC74    = Range{Min: -40, Max: 125}
	TemperatureRangeSHTC3   = Range{Min: -40, Max: 125}
	TemperatureRangeHIH6021 = Range{Min: -25, Max: 85}
	HumidityRange           = Range{Min: 0, Max: 100}
	LightRangeBH1750        = Range{Min: 0, Max: 65535}
	PressureRangeBMxx80     = Range{Min: 30000, Max: 110000}
)

func (r Range) check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", sensorpipe.ErrInvalidReading, v)
	}
	if r.Min == 0 && r.Max == 0 {
		return nil
	}
	if v < r.Min || v > r.Max {
		return fmt.Errorf("%w: %v outside [%v, %v]", sensorpipe.ErrInvalidReading, v, r.Min, r.Max)
	}
	return nil
}

func checked(r Range, read func(ctx context.Context) (float64, error)) sensorpipe.SourceFunc {
	return func(ctx context.Context) (float64, error) {
		v, err := read(ctx)
		if err != nil {
			return 0, err
		}
		if err := r.check(v); err != nil {
			return 0, err
		}
		return v, nil
	}
}

// Temperature samples degrees Celsius from s. A zero Range disables the
// bounds check but NaN and infinities are always rejected.
func Temperature(s TemperatureSensor, r Range) sensorpipe.SourceFunc {
	return checked(r, func(ctx context.Context) (float64, error) {
		t, err := s.GetTemperature(ctx)
		return float64(t), err
	})
}

// Humidity samples relative humidity in %RH from s.
func Humidity(s HumiditySensor, r Range) sensorpipe.SourceFunc {
	return checked(r, func(ctx context.Context) (float64, error) {
		h, err := s.GetHumidity(ctx)
		return float64(h), err
	})
}

// Illuminance samples lux from s.
func Illuminance(s LightSensor, r Range) sensorpipe.SourceFunc {
	return checked(r, func(ctx context.Context) (float64, error) {
		lux, err := s.GetLux(ctx)
		return float64(lux), err
	})
}

// Quantity selects the value an EnvSensor source reports.
type Quantity string

const (
	QuantityTemperature Quantity = "temperature"
	QuantityHumidity    Quantity = "humidity"
	QuantityPressure    Quantity = "pressure"
)

// Env samples one quantity from a periph environmental sensor: temperature
// in °C, humidity in %RH, pressure in Pa.
func Env(s EnvSensor, q Quantity, r Range) (sensorpipe.SourceFunc, error) {
	var pick func(env *physic.Env) float64
	switch q {
	case QuantityTemperature:
		pick = func(env *physic.Env) float64 {
			return float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
		}
	case QuantityHumidity:
		pick = func(env *physic.Env) float64 {
			return float64(env.Humidity) / float64(physic.PercentRH)
		}
	case QuantityPressure:
		pick = func(env *physic.Env) float64 {
			return float64(env.Pressure) / float64(physic.Pascal)
		}
	default:
		return nil, sensorpipe.ConfigError("unsupported quantity %q", q)
	}
	return checked(r, func(ctx context.Context) (float64, error) {
		var env physic.Env
		if err := s.Sense(&env); err != nil {
			return 0, err
		}
		return pick(&env), nil
	}), nil
}

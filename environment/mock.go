package environment

import (
	"context"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc defines the function signature for humidity behavior.
// It returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// LightBehaviorFunc defines the function signature for light sensor behavior.
type LightBehaviorFunc func(ctx context.Context) (int, error)

// MockTemperatureAndHumiditySensor produces readings from behavior functions
// without any hardware. It stands in for BMP280, TC74, SHTC3 or HIH6021 in
// dry runs and tests. A nil humidity behavior reports 0 %RH.
//
// Example usage:
//
//	temp := float32(20.0)
//	sensor := NewMockSensor(
//		func(ctx context.Context) (float32, error) { return temp, nil },
//		nil,
//	)
type MockTemperatureAndHumiditySensor struct {
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
}

func NewMockSensor(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc) *MockTemperatureAndHumiditySensor {
	return &MockTemperatureAndHumiditySensor{
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
}

// NewMockTemperatureSensor is NewMockSensor for temperature-only parts.
func NewMockTemperatureSensor(behavior TemperatureBehaviorFunc) *MockTemperatureAndHumiditySensor {
	return NewMockSensor(behavior, nil)
}

func (m *MockTemperatureAndHumiditySensor) GetTemperature(ctx context.Context) (float32, error) {
	return m.tempBehavior(ctx)
}

func (m *MockTemperatureAndHumiditySensor) GetHumidity(ctx context.Context) (float32, error) {
	if m.humBehavior == nil {
		return 0, nil
	}
	return m.humBehavior(ctx)
}

// GetTempAndHum calls both behaviors; a temperature error short-circuits.
func (m *MockTemperatureAndHumiditySensor) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	temp, err := m.GetTemperature(ctx)
	if err != nil {
		return 0, 0, err
	}
	hum, err := m.GetHumidity(ctx)
	if err != nil {
		return 0, 0, err
	}
	return temp, hum, nil
}

// MockLightSensor is a BH1750 stand-in driven by a behavior function.
type MockLightSensor struct {
	behavior LightBehaviorFunc
}

func NewMockLightSensor(behavior LightBehaviorFunc) *MockLightSensor {
	return &MockLightSensor{behavior: behavior}
}

func (m *MockLightSensor) GetLux(ctx context.Context) (int, error) {
	return m.behavior(ctx)
}

// Constant returns a behavior always reporting v.
func Constant(v float32) TemperatureBehaviorFunc {
	return func(ctx context.Context) (float32, error) { return v, nil }
}

// Drift returns a behavior starting at start and moving by step on each
// call, bouncing between lo and hi. Useful for demo pipelines.
func Drift(start, step, lo, hi float32) TemperatureBehaviorFunc {
	current := start
	return func(ctx context.Context) (float32, error) {
		v := current
		next := current + step
		if next > hi || next < lo {
			step = -step
			next = current + step
		}
		current = next
		return v, nil
	}
}

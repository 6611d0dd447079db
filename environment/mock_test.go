package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSensor(t *testing.T) {
	sensor := NewMockSensor(Constant(22.5), func(ctx context.Context) (float32, error) {
		return 40, nil
	})
	temp, hum, err := sensor.GetTempAndHum(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(22.5), temp)
	assert.Equal(t, float32(40), hum)

	hum, err = NewMockTemperatureSensor(Constant(1)).GetHumidity(context.Background())
	require.NoError(t, err)
	assert.Zero(t, hum)
}

func TestMockSensor_Error(t *testing.T) {
	boom := errors.New("sensor offline")
	sensor := NewMockSensor(func(ctx context.Context) (float32, error) { return 0, boom }, nil)
	_, _, err := sensor.GetTempAndHum(context.Background())
	assert.Equal(t, boom, err)
}

func TestDrift(t *testing.T) {
	behavior := Drift(20, 1, 19, 22)
	var got []float32
	for i := 0; i < 7; i++ {
		v, err := behavior(context.Background())
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []float32{20, 21, 22, 21, 20, 19, 20}, got)
}

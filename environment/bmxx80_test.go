package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/mklimuk/sensorpipe"
)

func TestBMxx80_NoBus(t *testing.T) {
	src, err := Env(NewBMxx80(nil), QuantityPressure, PressureRangeBMxx80)
	require.NoError(t, err)
	_, err = src.Sample(context.Background())
	assert.ErrorIs(t, err, sensorpipe.ErrConfiguration)
}

func TestBMxx80_OpenFailureIsRetried(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	sensor := NewBMxx80(bus, WithAddress(BMP280AddrSecondary))
	src, err := Env(sensor, QuantityTemperature, TemperatureRangeBMP280)
	require.NoError(t, err)

	for range 2 {
		_, err = src.Sample(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not open device at 0x76")
	}
	assert.NoError(t, sensor.Halt())
}

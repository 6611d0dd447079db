package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSHTC3_CRC(t *testing.T) {
	// datasheet example
	assert.Equal(t, byte(0x92), shtCRC8([]byte{0xBE, 0xEF}))
}

func shtFrame(rawT, rawRH uint16) []byte {
	t := []byte{byte(rawT >> 8), byte(rawT)}
	h := []byte{byte(rawRH >> 8), byte(rawRH)}
	return []byte{t[0], t[1], shtCRC8(t), h[0], h[1], shtCRC8(h)}
}

func TestSHTC3_Decode(t *testing.T) {
	temp, hum, err := decodeSHTC3(shtFrame(0x6666, 0x8000))
	require.NoError(t, err)
	assert.Equal(t, float32(25), temp)
	assert.InDelta(t, 50.0, float64(hum), 0.01)

	frame := shtFrame(0x6666, 0x8000)
	frame[2] ^= 0xFF
	_, _, err = decodeSHTC3(frame)
	assert.True(t, errors.Is(err, ErrCRCMismatch))

	frame = shtFrame(0x6666, 0x8000)
	frame[5] ^= 0xFF
	_, _, err = decodeSHTC3(frame)
	assert.True(t, errors.Is(err, ErrCRCMismatch))
}

func TestSHTC3_Measure(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(shtc3Address), []byte{0x35, 0x17}).Return(nil).Once()
	bus.On("WriteToAddr", mock.Anything, byte(shtc3Address), []byte{0x78, 0x66}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(shtc3Address), mock.Anything).Return(shtFrame(0x6666, 0x8000), nil).Once()
	bus.On("WriteToAddr", mock.Anything, byte(shtc3Address), []byte{0xB0, 0x98}).Return(errors.New("nack")).Once()

	s := NewSHTC3(bus)
	s.wakeDelay, s.measureDelay = 0, 0
	temp, hum, err := s.GetTempAndHum(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(25), temp)
	assert.InDelta(t, 50.0, float64(hum), 0.01)
	bus.AssertExpectations(t)
}

func TestSHTC3_Cancelled(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(shtc3Address), mock.Anything).Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSHTC3(bus).GetTemperature(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

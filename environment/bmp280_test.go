package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensorpipe"
)

// calibration and raw value from the datasheet's compensation example
var datasheetCalib = []byte{0x70, 0x6B, 0x43, 0x67, 0x18, 0xFC}

const datasheetADC = 519888

func TestBMP280_Compensate(t *testing.T) {
	c := bmp280Calibration{t1: 27504, t2: 26435, t3: -1000}
	assert.Equal(t, int32(2508), c.compensate(datasheetADC))
}

func newTestBMP280(bus *MockI2CBus) *BMP280 {
	s := NewBMP280(bus)
	s.delay = 0
	return s
}

func TestBMP280_GetTemperature(t *testing.T) {
	bus := &MockI2CBus{}
	bus.expectRegister(BMP280AddrPrimary, bmp280RegChipID, []byte{bmp280ChipID})
	bus.expectRegister(BMP280AddrPrimary, bmp280RegCalibT, datasheetCalib)
	bus.On("WriteToAddr", mock.Anything, byte(BMP280AddrPrimary), []byte{bmp280RegCtrlMeas, bmp280ForcedTempOnly}).Return(nil)
	bus.expectRegister(BMP280AddrPrimary, bmp280RegStatus, []byte{0x00})
	bus.expectRegister(BMP280AddrPrimary, bmp280RegTemp, []byte{0x7E, 0xED, 0x00})

	s := newTestBMP280(bus)
	temp, err := s.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25.08, float64(temp), 1e-4)
	bus.AssertExpectations(t)

	// calibration is cached
	bus.expectRegister(BMP280AddrPrimary, bmp280RegStatus, []byte{0x00})
	bus.expectRegister(BMP280AddrPrimary, bmp280RegTemp, []byte{0x7E, 0xED, 0x00})
	temp, err = s.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25.08, float64(temp), 1e-4)
	bus.AssertExpectations(t)
}

func TestBMP280_WrongChip(t *testing.T) {
	bus := &MockI2CBus{}
	bus.expectRegister(BMP280AddrSecondary, bmp280RegChipID, []byte{0x60})
	s := NewBMP280(bus, WithAddress(BMP280AddrSecondary))
	err := s.Init(context.Background())
	assert.True(t, errors.Is(err, ErrUnexpectedChip))
}

func TestBMP280_ConversionTimeout(t *testing.T) {
	bus := &MockI2CBus{}
	s := newTestBMP280(bus)
	s.calib = &bmp280Calibration{t1: 27504, t2: 26435, t3: -1000}
	bus.On("WriteToAddr", mock.Anything, byte(BMP280AddrPrimary), []byte{bmp280RegCtrlMeas, bmp280ForcedTempOnly}).Return(nil)
	bus.On("WriteToAddr", mock.Anything, byte(BMP280AddrPrimary), []byte{bmp280RegStatus}).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, byte(BMP280AddrPrimary), mock.Anything).Return([]byte{bmp280StatusMeasuring}, nil)

	_, err := s.GetTemperature(context.Background())
	assert.True(t, errors.Is(err, sensorpipe.ErrStaleData))
	bus.AssertNumberOfCalls(t, "ReadFromAddr", 3)
}

func TestBMP280_SkippedChannel(t *testing.T) {
	bus := &MockI2CBus{}
	s := newTestBMP280(bus)
	s.calib = &bmp280Calibration{t1: 27504, t2: 26435, t3: -1000}
	bus.On("WriteToAddr", mock.Anything, byte(BMP280AddrPrimary), []byte{bmp280RegCtrlMeas, bmp280ForcedTempOnly}).Return(nil)
	bus.expectRegister(BMP280AddrPrimary, bmp280RegStatus, []byte{0x00})
	bus.expectRegister(BMP280AddrPrimary, bmp280RegTemp, []byte{0x80, 0x00, 0x00})

	_, err := s.GetTemperature(context.Background())
	assert.True(t, errors.Is(err, sensorpipe.ErrStaleData))
}

func TestBMP280_BusError(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(BMP280AddrPrimary), []byte{bmp280RegChipID}).Return(sensorpipe.ErrBusBusy)
	s := newTestBMP280(bus)
	_, err := s.GetTemperature(context.Background())
	assert.True(t, errors.Is(err, sensorpipe.ErrBusBusy))
}

package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/sensorpipe"
)

// SHTC3 I2C address (7-bit), fixed by the part
const shtc3Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake  uint16 = 0x3517
	shtc3CmdSleep uint16 = 0xB098

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

var ErrCRCMismatch = fmt.Errorf("crc mismatch")

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor
// Typical usage:
//
//	s := NewSHTC3(bus)
//	t, h, err := s.GetTempAndHum(ctx)
type SHTC3 struct {
	transport    sensorpipe.I2CBus
	wakeDelay    time.Duration
	measureDelay time.Duration
}

func NewSHTC3(trans sensorpipe.I2CBus) *SHTC3 {
	return &SHTC3{
		transport: trans,
		// typical wake time is < 240us
		wakeDelay: time.Millisecond,
		// typical measurement time ~12.1 ms in normal mode
		measureDelay: 15 * time.Millisecond,
	}
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	temp, _, err := s.measure(ctx)
	return temp, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	_, hum, err := s.measure(ctx)
	return hum, err
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	return s.measure(ctx)
}

func (s *SHTC3) measure(ctx context.Context) (float32, float32, error) {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return 0, 0, fmt.Errorf("shtc3: wake failed: %w", err)
	}
	if err := wait(ctx, s.wakeDelay); err != nil {
		return 0, 0, fmt.Errorf("shtc3: %w", err)
	}
	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return 0, 0, fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	if err := wait(ctx, s.measureDelay); err != nil {
		return 0, 0, fmt.Errorf("shtc3: %w", err)
	}

	// T[0:2], CRC, RH[3:5], CRC
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, shtc3Address, buf); err != nil {
		return 0, 0, fmt.Errorf("shtc3: read failed: %w", err)
	}
	temp, hum, err := decodeSHTC3(buf)
	if err != nil {
		return 0, 0, err
	}
	// a failed sleep does not invalidate the measurement
	_ = s.writeCmd(ctx, shtc3CmdSleep)
	return temp, hum, nil
}

func decodeSHTC3(buf []byte) (float32, float32, error) {
	if shtCRC8(buf[0:2]) != buf[2] {
		return 0, 0, fmt.Errorf("shtc3: temperature %w", ErrCRCMismatch)
	}
	if shtCRC8(buf[3:5]) != buf[5] {
		return 0, 0, fmt.Errorf("shtc3: humidity %w", ErrCRCMismatch)
	}
	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawRH := binary.BigEndian.Uint16(buf[3:5])
	// T(C) = -45 + 175 * rawT / 65535
	// RH(%) = 100 * rawRH / 65535
	temp := -45.0 + (175.0 * float32(rawT) / 65535.0)
	hum := 100.0 * float32(rawRH) / 65535.0
	return temp, hum, nil
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, shtc3Address, out[:])
}

// Sensirion CRC-8, polynomial 0x31, init 0xFF
func shtCRC8(data []byte) byte {
	var crc byte = 0xFF
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if (crc & 0x80) != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

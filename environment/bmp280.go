package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/sensorpipe"
)

// BMP280 bus addresses; Adafruit breakouts pull SDO high.
const (
	BMP280AddrPrimary   = 0x77
	BMP280AddrSecondary = 0x76
)

const (
	bmp280RegCalibT   = 0x88
	bmp280RegChipID   = 0xD0
	bmp280RegStatus   = 0xF3
	bmp280RegCtrlMeas = 0xF4
	bmp280RegTemp     = 0xFA

	bmp280ChipID = 0x58

	// osrs_t x1, pressure skipped, forced mode
	bmp280ForcedTempOnly  = 0b001_000_01
	bmp280StatusMeasuring = 0x08

	// adc value reported when the temperature channel was skipped
	bmp280TempSkipped = 0x80000
)

var ErrUnexpectedChip = fmt.Errorf("unexpected chip id")

type bmp280Calibration struct {
	t1 uint16
	t2 int16
	t3 int16
}

// compensate applies the datasheet's integer compensation and returns the
// temperature in hundredths of °C.
func (c bmp280Calibration) compensate(adc int32) int32 {
	var1 := (((adc >> 3) - (int32(c.t1) << 1)) * int32(c.t2)) >> 11
	diff := (adc >> 4) - int32(c.t1)
	var2 := (((diff * diff) >> 12) * int32(c.t3)) >> 14
	tFine := var1 + var2
	return (tFine*5 + 128) >> 8
}

// BMP280 represents Bosch BMP280 pressure/temperature sensor used in
// temperature-only forced mode. Typical usage:
//
//	s := NewBMP280(bus)
//	t, err := s.GetTemperature(ctx)
//
// Calibration words are read from the device on first use.
type BMP280 struct {
	mx        sync.Mutex
	transport sensorpipe.I2CBus
	address   byte
	calib     *bmp280Calibration
	delay     time.Duration
	polls     int
}

func NewBMP280(transport sensorpipe.I2CBus, opts ...Option) *BMP280 {
	config := newConfig(BMP280AddrPrimary, opts)
	return &BMP280{
		transport: transport,
		address:   config.Address,
		// max conversion time at x1 oversampling is 6.4ms
		delay: 7 * time.Millisecond,
		polls: 3,
	}
}

// Init verifies the chip id and loads the calibration words.
func (s *BMP280) Init(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.init(ctx)
}

func (s *BMP280) init(ctx context.Context) error {
	id := make([]byte, 1)
	if err := s.readRegisters(ctx, bmp280RegChipID, id); err != nil {
		return err
	}
	if id[0] != bmp280ChipID {
		return fmt.Errorf("bmp280: %w: %#x", ErrUnexpectedChip, id[0])
	}
	raw := make([]byte, 6)
	if err := s.readRegisters(ctx, bmp280RegCalibT, raw); err != nil {
		return err
	}
	s.calib = &bmp280Calibration{
		t1: binary.LittleEndian.Uint16(raw[0:2]),
		t2: int16(binary.LittleEndian.Uint16(raw[2:4])),
		t3: int16(binary.LittleEndian.Uint16(raw[4:6])),
	}
	return nil
}

// GetTemperature triggers a forced conversion and returns degrees Celsius.
func (s *BMP280) GetTemperature(ctx context.Context) (float32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.calib == nil {
		if err := s.init(ctx); err != nil {
			return 0, err
		}
	}
	err := s.transport.WriteToAddr(ctx, s.address, []byte{bmp280RegCtrlMeas, bmp280ForcedTempOnly})
	if err != nil {
		return 0, fmt.Errorf("bmp280: could not start conversion: %w", err)
	}
	if err := s.awaitConversion(ctx); err != nil {
		return 0, err
	}
	data := make([]byte, 3)
	if err := s.readRegisters(ctx, bmp280RegTemp, data); err != nil {
		return 0, err
	}
	adc := int32(data[0])<<12 | int32(data[1])<<4 | int32(data[2])>>4
	if adc == bmp280TempSkipped {
		return 0, fmt.Errorf("bmp280: %w", sensorpipe.ErrStaleData)
	}
	return float32(s.calib.compensate(adc)) / 100, nil
}

func (s *BMP280) awaitConversion(ctx context.Context) error {
	status := make([]byte, 1)
	for i := 0; i < s.polls; i++ {
		if err := wait(ctx, s.delay); err != nil {
			return fmt.Errorf("bmp280: %w", err)
		}
		if err := s.readRegisters(ctx, bmp280RegStatus, status); err != nil {
			return err
		}
		if status[0]&bmp280StatusMeasuring == 0 {
			return nil
		}
	}
	return fmt.Errorf("bmp280: conversion did not complete: %w", sensorpipe.ErrStaleData)
}

func (s *BMP280) readRegisters(ctx context.Context, register byte, buf []byte) error {
	err := s.transport.WriteToAddr(ctx, s.address, []byte{register})
	if err != nil {
		return fmt.Errorf("bmp280: could not select register %#x: %w", register, err)
	}
	err = s.transport.ReadFromAddr(ctx, s.address, buf)
	if err != nil {
		return fmt.Errorf("bmp280: could not read register %#x: %w", register, err)
	}
	return nil
}

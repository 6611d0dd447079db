package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/sensorpipe"
)

const tc74DefaultAddress = 0x4D

const (
	tc74TempRegister   = 0x00
	tc74ConfigRegister = 0x01

	tc74ConfigStandby = 0x80
	tc74ConfigDataRdy = 0x40
)

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
//
// Usage: Instantiate with NewTC74, then call GetTemperature(ctx)
type TC74 struct {
	transport sensorpipe.I2CBus
	address   byte
}

// NewTC74 creates a new TC74 sensor connector with the given I2CBus transport.
// The default address 0x4D is used unless WithAddress is given.
func NewTC74(trans sensorpipe.I2CBus, opts ...Option) *TC74 {
	config := newConfig(tc74DefaultAddress, opts)
	return &TC74{transport: trans, address: config.Address}
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (sensor *TC74) GetConfig(ctx context.Context) (byte, error) {
	return sensor.readRegister(ctx, tc74ConfigRegister)
}

// SetStandby switches the device between standby and normal operation.
// Leaving standby the first conversion takes up to 250ms and DATA_RDY stays
// low until it completes.
func (sensor *TC74) SetStandby(ctx context.Context, standby bool) error {
	var value byte
	if standby {
		value = tc74ConfigStandby
	}
	err := sensor.transport.WriteToAddr(ctx, sensor.address, []byte{tc74ConfigRegister, value})
	if err != nil {
		return fmt.Errorf("tc74: could not write config register: %w", err)
	}
	return nil
}

// GetTemperature reads the current temperature in Celsius. It returns
// ErrStaleData while the DATA_RDY bit is not set (first conversion after
// power up or standby).
func (sensor *TC74) GetTemperature(ctx context.Context) (float32, error) {
	config, err := sensor.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	if config&tc74ConfigStandby != 0 {
		return 0, fmt.Errorf("tc74: device in standby: %w", sensorpipe.ErrStaleData)
	}
	if config&tc74ConfigDataRdy == 0 {
		return 0, fmt.Errorf("tc74: conversion not ready: %w", sensorpipe.ErrStaleData)
	}
	raw, err := sensor.readRegister(ctx, tc74TempRegister)
	if err != nil {
		return 0, err
	}
	// 2's complement, 1°C per LSB
	return float32(int8(raw)), nil
}

func (sensor *TC74) readRegister(ctx context.Context, register byte) (byte, error) {
	err := sensor.transport.WriteToAddr(ctx, sensor.address, []byte{register})
	if err != nil {
		return 0, fmt.Errorf("tc74: could not select register %#x: %w", register, err)
	}
	resp := make([]byte, 1)
	err = sensor.transport.ReadFromAddr(ctx, sensor.address, resp)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read register %#x: %w", register, err)
	}
	return resp[0], nil
}

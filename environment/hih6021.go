package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/sensorpipe"
)

const hih6021DefaultAddress = 0x27

// measurement cycle takes typically 36.65ms
const hih6021MeasureDelay = 50 * time.Millisecond

var divider = float32(1<<14 - 2)

var ErrCommandMode = fmt.Errorf("device in command mode")

// HIH6021 represents Honeywell HumidIcon Digital Humidity/Temperature sensor
type HIH6021 struct {
	transport sensorpipe.I2CBus
	address   byte
	delay     time.Duration
}

func NewHIH6021(trans sensorpipe.I2CBus, opts ...Option) *HIH6021 {
	config := newConfig(hih6021DefaultAddress, opts)
	return &HIH6021{transport: trans, address: config.Address, delay: hih6021MeasureDelay}
}

func (sensor *HIH6021) GetTemperature(ctx context.Context) (float32, error) {
	temp, _, err := sensor.measure(ctx)
	return temp, err
}

func (sensor *HIH6021) GetHumidity(ctx context.Context) (float32, error) {
	_, hum, err := sensor.measure(ctx)
	return hum, err
}

func (sensor *HIH6021) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	return sensor.measure(ctx)
}

func (sensor *HIH6021) measure(ctx context.Context) (float32, float32, error) {
	err := sensor.transport.WriteToAddr(ctx, sensor.address, []byte{})
	if err != nil {
		return 0, 0, fmt.Errorf("hih6021: could not write measurement request: %w", err)
	}
	if err := wait(ctx, sensor.delay); err != nil {
		return 0, 0, fmt.Errorf("hih6021: %w", err)
	}
	resp := make([]byte, 4)
	err = sensor.transport.ReadFromAddr(ctx, sensor.address, resp)
	if err != nil {
		return 0, 0, fmt.Errorf("hih6021: could not read measurement: %w", err)
	}
	// status bits 15:14
	if resp[0]&0x80 > 0 {
		return 0, 0, ErrCommandMode
	}
	if resp[0]&0x40 > 0 {
		// data already fetched since the last measurement, or fetched before
		// the first measurement completed
		return 0, 0, fmt.Errorf("hih6021: %w", sensorpipe.ErrStaleData)
	}
	return convertTemperature(resp[2:4]), convertHumidity(resp[0:2]), nil
}

func convertHumidity(resp []byte) float32 {
	hum := float32(binary.BigEndian.Uint16(resp)&0x3FFF) / divider * 100
	if hum > 100.00 {
		return 100.00
	}
	return hum
}

func convertTemperature(resp []byte) float32 {
	shift := resp[0] & 0x03
	shift <<= 6
	lsb := (resp[1] >> 2) | shift
	msb := resp[0] >> 2
	return float32(binary.BigEndian.Uint16([]byte{msb, lsb}))/divider*165 - 40
}

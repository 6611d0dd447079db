package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/sensorpipe"
)

const BH1750AddrHigh = 0b1011100
const BH1750AddrLow = 0b0100011

const (
	opCodeSingleLowResolution = 0b00100011
)

// BH1750 represents ROHM BH1750FVI ambient light sensor.
type BH1750 struct {
	transport sensorpipe.I2CBus
	addr      byte
	delay     time.Duration
}

func NewBH1750(transport sensorpipe.I2CBus, opts ...Option) *BH1750 {
	config := newConfig(BH1750AddrLow, opts)
	return &BH1750{
		addr:      config.Address,
		transport: transport,
		// measurement cycle takes typically 16ms, max 24ms
		delay: 25 * time.Millisecond,
	}
}

// GetLux runs a one-time low resolution measurement.
func (sensor *BH1750) GetLux(ctx context.Context) (int, error) {
	err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{opCodeSingleLowResolution})
	if err != nil {
		return 0, fmt.Errorf("bh1750: could not write command: %w", err)
	}
	if err := wait(ctx, sensor.delay); err != nil {
		return 0, fmt.Errorf("bh1750: %w", err)
	}
	buf := make([]byte, 2)
	err = sensor.transport.ReadFromAddr(ctx, sensor.addr, buf)
	if err != nil {
		return 0, fmt.Errorf("bh1750: could not read data: %w", err)
	}
	return convertLux(buf), nil
}

func convertLux(buf []byte) int {
	return int(float32(binary.BigEndian.Uint16(buf)) / 1.2)
}

package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/sensorpipe"
)

var _ sensorpipe.I2CBus = &GenericBus{}

// GenericBus drives a Linux i2c-dev bus through periph.
type GenericBus struct {
	mx  sync.Mutex
	bus i2c.BusCloser
}

var hostInit = sync.OnceValue(func() error {
	state, err := host.Init()
	if err != nil {
		return err
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	for _, failure := range state.Failed {
		slog.Debug("periph driver failed", "driver", failure.D.String(), "error", failure.Err)
	}
	return nil
})

// NewGenericBus opens dev ("/dev/i2c-1", "I2C1" or "" for the first bus).
func NewGenericBus(dev string) (*GenericBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("i2c: could not init host: %w", err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("i2c: could not open bus %q: %w", dev, err)
	}
	return NewGenericBusFrom(bus), nil
}

// NewGenericBusFrom wraps an already opened periph bus.
func NewGenericBusFrom(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

// SetSpeed sets the bus clock in Hz.
func (b *GenericBus) SetSpeed(hz int64) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("i2c: could not set speed: %w", err)
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("i2c: could not read from %#x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("i2c: could not write to %#x: %w", address, err)
	}
	return nil
}

// Release is a no-op; the kernel driver never holds the bus between transfers.
// Periph exposes the underlying bus to periph device drivers.
func (b *GenericBus) Periph() i2c.Bus {
	return b.bus
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

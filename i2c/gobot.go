package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gobot "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sensorpipe"
)

var _ sensorpipe.I2CBus = &GobotBus{}

// GobotBus talks to devices through a gobot I2C connector. Connections are
// opened lazily per address and kept until Close.
type GobotBus struct {
	mx        sync.Mutex
	connector gobot.Connector
	bus       int
	conns     map[byte]gobot.Connection
	finalize  func() error
}

func NewGobotBus(connector gobot.Connector, bus int) *GobotBus {
	return &GobotBus{
		connector: connector,
		bus:       bus,
		conns:     make(map[byte]gobot.Connection),
	}
}

// NewNanoPiBus connects the NanoPi NEO I2C adaptor and returns a bus on the
// given bus number.
func NewNanoPiBus(bus int) (*GobotBus, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, fmt.Errorf("i2c: adaptor connect error: %w", err)
	}
	b := NewGobotBus(npi, bus)
	b.finalize = npi.I2cBusAdaptor.Finalize
	return b, nil
}

func (b *GobotBus) connection(address byte) (gobot.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("i2c: could not open connection to %#x: %w", address, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("i2c: could not read from %#x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("i2c: short read from %#x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	_, err = conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("i2c: could not write to %#x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes every open connection and finalizes the adaptor, if owned.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("i2c: close %#x: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	if b.finalize != nil {
		if err := b.finalize(); err != nil {
			errs = append(errs, fmt.Errorf("i2c: finalize adaptor: %w", err))
		}
	}
	return errors.Join(errs...)
}

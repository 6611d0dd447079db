package sensorpipe

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// AddressableReader reads a response from the device at the given 7-bit address.
type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

// AddressableWriter writes a request to the device at the given 7-bit address.
type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is what every sensor driver needs from an adapter. Implementations
// live in the i2c and adapter packages.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

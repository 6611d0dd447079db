package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// HID commands
const (
	cmdStatusSetParams = 0x10
	cmdI2CWrite        = 0x90
	cmdI2CRead         = 0x91
	cmdI2CGetData      = 0x40
)

const (
	statusCancelTransfer = 0x10
	statusSetSpeed       = 0x20
	// I2C clock is derived from the 12MHz system clock
	systemClock = 12_000_000
)

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// Device is an open HID interface. *hid.Device satisfies it.
type Device interface {
	io.ReadWriteCloser
}

// DeviceInfo describes an attached MCP2221.
type DeviceInfo struct {
	Index   int
	Path    string
	Serial  string
	Product string
}

// Enumerate lists the MCP2221 adapters attached over USB.
func Enumerate() []DeviceInfo {
	var res []DeviceInfo
	for i, d := range hid.Enumerate(VendorID, ProductID) {
		res = append(res, DeviceInfo{Index: i, Path: d.Path, Serial: d.Serial, Product: d.Product})
	}
	return res
}

var _ sensorpipe.I2CBus = &MCP2221{}

// MCP2221 is an I2C bus behind a Microchip MCP2221(A) USB bridge. Every
// operation is a 64 byte HID report followed by a 64 byte response.
type MCP2221 struct {
	mx           sync.Mutex
	dev          Device
	request      []byte
	response     []byte
	responseWait time.Duration
	log          *slog.Logger
}

type MCP2221Status struct {
	I2CDataBufferCounter   int
	I2CSpeedDivider        int
	I2CTimeout             int
	CurrentAddress         string
	LastWriteRequestedSize uint16
	LastWriteSentSize      uint16
	ReadPending            int
}

type Option func(*MCP2221)

func WithResponseWait(d time.Duration) Option {
	return func(m *MCP2221) {
		m.responseWait = d
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *MCP2221) {
		m.log = log
	}
}

// NewMCP2221 wraps an open device.
func NewMCP2221(dev Device, opts ...Option) *MCP2221 {
	m := &MCP2221{
		dev:          dev,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens the adapter with the given enumeration index. A negative index
// selects the only attached adapter and fails if there are several.
func Open(index int, opts ...Option) (*MCP2221, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d adapters attached", len(devs))
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return NewMCP2221(dev, opts...), nil
}

func (d *MCP2221) Close() error {
	return d.dev.Close()
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: write to %#x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		d.log.Debug("adapter busy", "address", address)
		return sensorpipe.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: read from %#x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return sensorpipe.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CGetData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("mcp2221: error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("mcp2221: invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetSpeed sets the I2C clock in Hz.
func (d *MCP2221) SetSpeed(ctx context.Context, hz int) error {
	if hz <= 0 || systemClock/hz < 4 || systemClock/hz-3 > 255 {
		return fmt.Errorf("mcp2221: unsupported speed %d Hz", hz)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	d.request[3] = statusSetSpeed
	d.request[4] = byte(systemClock/hz - 3)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("mcp2221: set speed failed: %w", err)
	}
	// 0x20 echoed when the new divider was accepted
	if d.response[3] != statusSetSpeed {
		return fmt.Errorf("mcp2221: set speed: %w", ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp2221: status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels a hung transfer, freeing the bus.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	d.request[2] = statusCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp2221: release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		d.log.Debug("sending message to adapter", "report", "\n"+hex.Dump(d.request))
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		timer := time.NewTimer(d.responseWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		d.log.Debug("read message from adapter", "report", "\n"+hex.Dump(d.response))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command %#x, expected %#x", d.response[0], d.request[0])
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

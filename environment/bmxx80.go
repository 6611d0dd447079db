package environment

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/mklimuk/sensorpipe"
)

// PeriphBus is implemented by buses that can hand their periph bus to
// periph device drivers.
type PeriphBus interface {
	Periph() i2c.Bus
}

var _ EnvSensor = &BMxx80{}

// BMxx80 reads a Bosch BME280 (or BMP280 without humidity) through the periph
// driver. Temperature, pressure and humidity come from one measurement, so it
// is sampled with the Env source. The device is opened on first use and
// reopened after a failed open.
type BMxx80 struct {
	mx     sync.Mutex
	bus    i2c.Bus
	config Config
	opts   bmxx80.Opts
	dev    *bmxx80.Dev
}

func NewBMxx80(bus i2c.Bus, opts ...Option) *BMxx80 {
	return &BMxx80{
		bus:    bus,
		config: newConfig(BMP280AddrPrimary, opts),
		opts:   bmxx80.DefaultOpts,
	}
}

func (s *BMxx80) Sense(env *physic.Env) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.dev == nil {
		if s.bus == nil {
			return sensorpipe.ConfigError("bmxx80: no periph bus")
		}
		dev, err := bmxx80.NewI2C(s.bus, uint16(s.config.Address), &s.opts)
		if err != nil {
			return fmt.Errorf("bmxx80: could not open device at %#x: %w", s.config.Address, err)
		}
		s.dev = dev
	}
	if err := s.dev.Sense(env); err != nil {
		return fmt.Errorf("bmxx80: sense: %w", err)
	}
	return nil
}

// Halt puts an opened device to sleep.
func (s *BMxx80) Halt() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.dev == nil {
		return nil
	}
	return s.dev.Halt()
}

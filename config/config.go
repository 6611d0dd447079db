package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/sink"
	"github.com/mklimuk/sensorpipe/transform"
)

// EnvPrefix prefixes every environment override, e.g. SENSORPIPE_SIGNALK_URL.
const EnvPrefix = "SENSORPIPE"

// Bus adapters
const (
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterMCP2221 = "mcp2221"
	// AdapterNone runs without hardware; only mock sensors can be used.
	AdapterNone = "none"
)

// Sensor kinds
const (
	SensorBMP280  = "bmp280"
	SensorTC74    = "tc74"
	SensorSHTC3   = "shtc3"
	SensorHIH6021 = "hih6021"
	SensorBH1750  = "bh1750"
	SensorBME280  = "bme280"
	SensorMock    = "mock"
)

// Quantities
const (
	QuantityTemperature = "temperature"
	QuantityHumidity    = "humidity"
	QuantityIlluminance = "illuminance"
	QuantityPressure    = "pressure"
)

var sensorQuantities = map[string][]string{
	SensorBMP280:  {QuantityTemperature},
	SensorTC74:    {QuantityTemperature},
	SensorSHTC3:   {QuantityTemperature, QuantityHumidity},
	SensorHIH6021: {QuantityTemperature, QuantityHumidity},
	SensorBH1750:  {QuantityIlluminance},
	SensorBME280:  {QuantityTemperature, QuantityHumidity, QuantityPressure},
	SensorMock:    {QuantityTemperature, QuantityHumidity, QuantityIlluminance},
}

type Config struct {
	Log       LogConfig        `yaml:"log"`
	Bus       BusConfig        `yaml:"bus"`
	SignalK   SignalKConfig    `yaml:"signalk"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tick      time.Duration    `yaml:"tick"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Verbose dumps raw adapter traffic.
	Verbose bool `yaml:"verbose"`
}

type BusConfig struct {
	Adapter string `yaml:"adapter"`
	// Device is the i2c-dev path for the generic adapter.
	Device string `yaml:"device"`
	// Number is the bus number for the nanopi adapter.
	Number int `yaml:"number"`
	// Index selects one of several MCP2221 adapters, -1 for the only one.
	Index int `yaml:"index"`
	// Speed in Hz, 0 keeps the adapter default.
	Speed int `yaml:"speed"`
}

type SignalKConfig struct {
	// URL of the server; empty logs readings instead of sending them.
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ClientID enables the device access request flow when no token is set.
	ClientID    string        `yaml:"client_id"`
	Description string        `yaml:"description"`
	Label       string        `yaml:"label"`
	Reconnect   time.Duration `yaml:"reconnect"`
}

type MetricsConfig struct {
	// Listen address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

type PipelineConfig struct {
	Name       string            `yaml:"name"`
	Sensor     string            `yaml:"sensor"`
	Address    byte              `yaml:"address"`
	Quantity   string            `yaml:"quantity"`
	Interval   time.Duration     `yaml:"interval"`
	Immediate  bool              `yaml:"immediate"`
	Transforms []TransformConfig `yaml:"transforms"`
	Range      *RangeConfig      `yaml:"range"`
	Sinks      []SinkConfig      `yaml:"sinks"`
	Mock       *MockConfig       `yaml:"mock"`
}

type TransformConfig struct {
	Name string  `yaml:"name"`
	Arg  float64 `yaml:"arg"`
}

type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type SinkConfig struct {
	Path   string `yaml:"path"`
	Policy string `yaml:"policy"`
}

// MockConfig drives a mock sensor drifting between Min and Max.
type MockConfig struct {
	Start float32 `yaml:"start"`
	Step  float32 `yaml:"step"`
	Min   float32 `yaml:"min"`
	Max   float32 `yaml:"max"`
}

// Default is the single engine room temperature pipeline: a BMP280 sampled
// every 2s, published in Kelvin.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Bus: BusConfig{Adapter: AdapterGeneric, Device: "/dev/i2c-1", Index: -1},
		SignalK: SignalKConfig{
			Description: "sensorpipe engine room sensors",
			Label:       "sensorpipe",
			Reconnect:   5 * time.Second,
		},
		Tick: 100 * time.Millisecond,
		Pipelines: []PipelineConfig{
			{
				Name:       "engine-room",
				Sensor:     SensorBMP280,
				Address:    0x77,
				Quantity:   QuantityTemperature,
				Interval:   2000 * time.Millisecond,
				Transforms: []TransformConfig{{Name: "celsius-to-kelvin"}},
				Range:      &RangeConfig{Min: -40, Max: 85},
				Sinks:      []SinkConfig{{Path: "propulsion.engineRoom.temperature", Policy: "drop"}},
			},
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: could not read %s: %w", path, err)
		}
		cfg, err = Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. A file listing pipelines replaces the
// default pipeline. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	cfg.Pipelines = nil
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, sensorpipe.ConfigError("invalid yaml: %v", err)
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = Default().Pipelines
	}
	return cfg, nil
}

type env struct {
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	BusAdapter      string        `envconfig:"BUS_ADAPTER"`
	BusDevice       string        `envconfig:"BUS_DEVICE"`
	SignalKURL      string        `envconfig:"SIGNALK_URL"`
	SignalKToken    string        `envconfig:"SIGNALK_TOKEN"`
	SignalKUsername string        `envconfig:"SIGNALK_USERNAME"`
	SignalKPassword string        `envconfig:"SIGNALK_PASSWORD"`
	SignalKClientID string        `envconfig:"SIGNALK_CLIENT_ID"`
	MetricsListen   string        `envconfig:"METRICS_LISTEN"`
	Tick            time.Duration `envconfig:"TICK"`
}

// ApplyEnv overrides settings from SENSORPIPE_* variables. Pipelines are
// only configurable from the file.
func (c *Config) ApplyEnv() error {
	var e env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return sensorpipe.ConfigError("environment: %v", err)
	}
	override(&c.Log.Level, e.LogLevel)
	override(&c.Bus.Adapter, e.BusAdapter)
	override(&c.Bus.Device, e.BusDevice)
	override(&c.SignalK.URL, e.SignalKURL)
	override(&c.SignalK.Token, e.SignalKToken)
	override(&c.SignalK.Username, e.SignalKUsername)
	override(&c.SignalK.Password, e.SignalKPassword)
	override(&c.SignalK.ClientID, e.SignalKClientID)
	override(&c.Metrics.Listen, e.MetricsListen)
	if e.Tick != 0 {
		c.Tick = e.Tick
	}
	return nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Validate reports every configuration problem at once. All errors wrap
// sensorpipe.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, sensorpipe.ConfigError(format, args...))
	}
	if c.Tick <= 0 {
		add("tick must be positive, got %s", c.Tick)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		add("unknown log level %q", c.Log.Level)
	}
	switch c.Bus.Adapter {
	case AdapterGeneric, AdapterNanoPi, AdapterMCP2221, AdapterNone:
	default:
		add("unknown bus adapter %q", c.Bus.Adapter)
	}
	if c.SignalK.Username != "" && c.SignalK.Password == "" {
		add("signalk: username set without password")
	}
	if len(c.Pipelines) == 0 {
		add("no pipelines configured")
	}
	names := make(map[string]struct{})
	policies := make(map[string]string)
	for i, p := range c.Pipelines {
		if p.Name == "" {
			add("pipeline #%d: missing name", i)
		} else if _, ok := names[p.Name]; ok {
			add("duplicate pipeline name %q", p.Name)
		}
		names[p.Name] = struct{}{}
		for _, err := range p.validate(c.Bus.Adapter) {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.Name, err))
		}
		for _, s := range p.Sinks {
			policy, err := sink.ParsePolicy(s.Policy)
			if err != nil || s.Path == "" {
				continue
			}
			// a path shared by pipelines is one sink and needs one policy
			if prev, ok := policies[s.Path]; ok && prev != policy.String() {
				add("sink %s: conflicting policies %s and %s", s.Path, prev, policy)
			}
			policies[s.Path] = policy.String()
		}
	}
	return errors.Join(errs...)
}

func (p PipelineConfig) validate(adapter string) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, sensorpipe.ConfigError(format, args...))
	}
	if p.Interval.Truncate(time.Millisecond) <= 0 {
		add("interval must be at least 1ms, got %s", p.Interval)
	}
	quantities, ok := sensorQuantities[p.Sensor]
	if !ok {
		add("unknown sensor %q", p.Sensor)
	} else if !slices.Contains(quantities, p.Measures()) {
		add("sensor %s does not measure %s", p.Sensor, p.Measures())
	}
	if p.Sensor != SensorMock && adapter == AdapterNone {
		add("sensor %s needs a bus adapter", p.Sensor)
	}
	if p.Sensor == SensorBME280 && adapter != AdapterGeneric {
		add("sensor %s needs the %s adapter", p.Sensor, AdapterGeneric)
	}
	if p.Sensor == SensorMock && p.Mock != nil && p.Mock.Min > p.Mock.Max {
		add("mock: min %v above max %v", p.Mock.Min, p.Mock.Max)
	}
	if _, err := p.BuildTransforms(); err != nil {
		errs = append(errs, err)
	}
	if p.Range != nil && p.Range.Min > p.Range.Max {
		add("range: min %v above max %v", p.Range.Min, p.Range.Max)
	}
	if len(p.Sinks) == 0 {
		add("no sinks")
	}
	paths := make(map[string]struct{})
	for _, s := range p.Sinks {
		if s.Path == "" {
			add("sink with empty path")
			continue
		}
		if _, ok := paths[s.Path]; ok {
			add("duplicate sink path %q", s.Path)
		}
		paths[s.Path] = struct{}{}
		if _, err := sink.ParsePolicy(s.Policy); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Measures returns the configured quantity, temperature by default.
func (p PipelineConfig) Measures() string {
	if p.Quantity == "" {
		return QuantityTemperature
	}
	return p.Quantity
}

// BuildTransforms resolves the transform chain in configuration order.
func (p PipelineConfig) BuildTransforms() ([]sensorpipe.Transform, error) {
	res := make([]sensorpipe.Transform, 0, len(p.Transforms))
	for _, t := range p.Transforms {
		fn, err := transform.ByName(t.Name, t.Arg)
		if err != nil {
			return nil, err
		}
		res = append(res, fn)
	}
	return res, nil
}

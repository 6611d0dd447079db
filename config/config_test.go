package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensorpipe"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Pipelines, 1)
	p := cfg.Pipelines[0]
	assert.Equal(t, "engine-room", p.Name)
	assert.Equal(t, SensorBMP280, p.Sensor)
	assert.Equal(t, byte(0x77), p.Address)
	assert.Equal(t, 2*time.Second, p.Interval)
	assert.Equal(t, "propulsion.engineRoom.temperature", p.Sinks[0].Path)

	transforms, err := p.BuildTransforms()
	require.NoError(t, err)
	require.Len(t, transforms, 1)
	assert.Equal(t, 294.65, transforms[0](21.5))
}

const sample = `
log:
  level: debug
bus:
  adapter: mcp2221
  speed: 100000
signalk:
  url: http://openplotter.local:3000
  client_id: 1e2c1b52-5a4e-4e3b-9a53-0b1f4a3d7c11
tick: 50ms
pipelines:
  - name: engine-room
    sensor: bmp280
    address: 0x76
    interval: 2s
    transforms:
      - name: celsius-to-kelvin
    sinks:
      - path: propulsion.engineRoom.temperature
  - name: cabin-humidity
    sensor: shtc3
    quantity: humidity
    interval: 10s
    transforms:
      - name: percent-to-ratio
      - name: round
        arg: 3
    range: {min: 0, max: 100}
    sinks:
      - path: environment.inside.relativeHumidity
        policy: retry-latest
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, AdapterMCP2221, cfg.Bus.Adapter)
	assert.Equal(t, -1, cfg.Bus.Index, "defaults are kept for unset keys")
	assert.Equal(t, 50*time.Millisecond, cfg.Tick)
	require.Len(t, cfg.Pipelines, 2)
	assert.Equal(t, byte(0x76), cfg.Pipelines[0].Address)
	assert.Equal(t, QuantityTemperature, cfg.Pipelines[0].Measures())
	hum := cfg.Pipelines[1]
	assert.Equal(t, 10*time.Second, hum.Interval)
	assert.Equal(t, &RangeConfig{Min: 0, Max: 100}, hum.Range)
	transforms, err := hum.BuildTransforms()
	require.NoError(t, err)
	assert.Equal(t, 0.457, sensorpipe.Chain(transforms...)(45.7123))
}

func TestParse_EmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("pipelines:\n  - name: x\n    sensr: bmp280\n"))
	assert.ErrorIs(t, err, sensorpipe.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		contains string
	}{
		{"tick", func(c *Config) { c.Tick = 0 }, "tick must be positive"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"adapter", func(c *Config) { c.Bus.Adapter = "spi" }, "unknown bus adapter"},
		{"no pipelines", func(c *Config) { c.Pipelines = nil }, "no pipelines"},
		{"interval", func(c *Config) { c.Pipelines[0].Interval = 500 * time.Microsecond }, "interval must be at least 1ms"},
		{"sensor", func(c *Config) { c.Pipelines[0].Sensor = "dht22" }, "unknown sensor"},
		{"quantity", func(c *Config) { c.Pipelines[0].Quantity = QuantityHumidity }, "does not measure humidity"},
		{"no bus", func(c *Config) { c.Bus.Adapter = AdapterNone }, "needs a bus adapter"},
		{"transform", func(c *Config) { c.Pipelines[0].Transforms[0].Name = "fahrenheit" }, "fahrenheit"},
		{"range", func(c *Config) { c.Pipelines[0].Range = &RangeConfig{Min: 10, Max: 0} }, "range"},
		{"no sinks", func(c *Config) { c.Pipelines[0].Sinks = nil }, "no sinks"},
		{"empty path", func(c *Config) { c.Pipelines[0].Sinks[0].Path = "" }, "empty path"},
		{"policy", func(c *Config) { c.Pipelines[0].Sinks[0].Policy = "queue" }, "unknown sink policy"},
		{"duplicate path", func(c *Config) {
			c.Pipelines[0].Sinks = append(c.Pipelines[0].Sinks, c.Pipelines[0].Sinks[0])
		}, "duplicate sink path"},
		{"duplicate name", func(c *Config) {
			c.Pipelines = append(c.Pipelines, c.Pipelines[0])
		}, "duplicate pipeline name"},
		{"conflicting policies", func(c *Config) {
			other := Default().Pipelines[0]
			other.Name = "engine-room-2"
			other.Sinks[0].Policy = "retry-latest"
			c.Pipelines = append(c.Pipelines, other)
		}, "conflicting policies"},
		{"login", func(c *Config) { c.SignalK.Username = "admin" }, "without password"},
		{"bme280 adapter", func(c *Config) {
			c.Bus.Adapter = AdapterMCP2221
			c.Pipelines[0].Sensor = SensorBME280
		}, "needs the generic adapter"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, sensorpipe.ErrConfiguration)
			assert.Contains(t, err.Error(), test.contains)
		})
	}
}

func TestValidate_BME280Pressure(t *testing.T) {
	cfg := Default()
	cfg.Bus.Adapter = AdapterGeneric
	cfg.Pipelines[0].Sensor = SensorBME280
	cfg.Pipelines[0].Quantity = QuantityPressure
	cfg.Pipelines[0].Transforms = nil
	cfg.Pipelines[0].Range = nil
	cfg.Pipelines[0].Sinks = []SinkConfig{{Path: "environment.inside.pressure"}}
	require.NoError(t, cfg.Validate())
}

func TestValidate_SharedSink(t *testing.T) {
	cfg := Default()
	other := Default().Pipelines[0]
	other.Name = "engine-room-backup"
	other.Address = 0x76
	cfg.Pipelines = append(cfg.Pipelines, other)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensorpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("SENSORPIPE_SIGNALK_URL", "https://boat.example:3443")
	t.Setenv("SENSORPIPE_SIGNALK_TOKEN", "token")
	t.Setenv("SENSORPIPE_TICK", "20ms")
	t.Setenv("SENSORPIPE_BUS_ADAPTER", "generic")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://boat.example:3443", cfg.SignalK.URL)
	assert.Equal(t, "token", cfg.SignalK.Token)
	assert.Equal(t, 20*time.Millisecond, cfg.Tick)
	assert.Equal(t, AdapterGeneric, cfg.Bus.Adapter)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SENSORPIPE_TICK", "often")
	_, err = Load("")
	assert.ErrorIs(t, err, sensorpipe.ErrConfiguration)
}

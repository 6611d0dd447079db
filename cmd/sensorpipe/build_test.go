package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/config"
	"github.com/mklimuk/sensorpipe/environment"
	"github.com/mklimuk/sensorpipe/i2c"
	"github.com/mklimuk/sensorpipe/pipeline"
	"github.com/mklimuk/sensorpipe/sink"
)

func mockConfig() *config.Config {
	cfg := config.Default()
	cfg.Bus.Adapter = config.AdapterNone
	cfg.Pipelines = []config.PipelineConfig{
		{
			Name:       "engine-room",
			Sensor:     config.SensorMock,
			Interval:   2 * time.Second,
			Transforms: []config.TransformConfig{{Name: "celsius-to-kelvin"}},
			Sinks:      []config.SinkConfig{{Path: "propulsion.engineRoom.temperature"}},
			Mock:       &config.MockConfig{Start: 21.5, Step: 0.5, Min: 20, Max: 23},
		},
		{
			Name:       "cabin-humidity",
			Sensor:     config.SensorMock,
			Quantity:   config.QuantityHumidity,
			Interval:   5 * time.Second,
			Immediate:  true,
			Transforms: []config.TransformConfig{{Name: "percent-to-ratio"}},
			Sinks: []config.SinkConfig{
				{Path: "environment.inside.relativeHumidity", Policy: "retry-latest"},
				{Path: "propulsion.engineRoom.temperature"},
			},
			Mock: &config.MockConfig{Start: 40, Step: 1, Min: 30, Max: 60},
		},
	}
	return cfg
}

func TestBuildPipelines(t *testing.T) {
	cfg := mockConfig()
	require.NoError(t, cfg.Validate())
	transport := sink.NewMemoryTransport()

	pipelines, err := buildPipelines(cfg, nil, transport)
	require.NoError(t, err)
	require.Len(t, pipelines, 2)

	// pipelines naming the same path share one sink
	shared := pipelines[0].Sinks()[0]
	assert.Same(t, shared, pipelines[1].Sinks()[1])
	retry, ok := pipelines[1].Sinks()[0].(*sink.Endpoint)
	require.True(t, ok)
	assert.Equal(t, sink.PolicyRetryLatest, retry.Policy())

	mock := clock.NewMock()
	sched := pipeline.NewScheduler(pipeline.WithClock(mock))
	for _, p := range pipelines {
		require.NoError(t, sched.Register(p))
	}
	ctx := context.Background()

	cycles := sched.Tick(ctx)
	require.Len(t, cycles, 1, "only the immediate pipeline fires on the first tick")
	assert.Equal(t, "cabin-humidity", cycles[0].Pipeline)
	assert.InDelta(t, 0.40, cycles[0].Reading.Value, 1e-9)

	mock.Add(2 * time.Second)
	cycles = sched.Tick(ctx)
	require.Len(t, cycles, 1)
	assert.InDelta(t, 294.65, cycles[0].Reading.Value, 1e-9)
	last, ok := transport.Last("propulsion.engineRoom.temperature")
	require.True(t, ok)
	assert.InDelta(t, 294.65, last.Value, 1e-9)
}

func TestNewSource(t *testing.T) {
	sensors := []struct {
		sensor   string
		quantity string
	}{
		{config.SensorBMP280, ""},
		{config.SensorTC74, config.QuantityTemperature},
		{config.SensorSHTC3, config.QuantityHumidity},
		{config.SensorHIH6021, config.QuantityTemperature},
		{config.SensorBH1750, config.QuantityIlluminance},
		{config.SensorMock, config.QuantityIlluminance},
	}
	for _, s := range sensors {
		t.Run(s.sensor, func(t *testing.T) {
			src, err := newSource(nil, config.PipelineConfig{Sensor: s.sensor, Quantity: s.quantity})
			require.NoError(t, err)
			assert.NotNil(t, src)
		})
	}
	_, err := newSource(nil, config.PipelineConfig{Sensor: "dht22"})
	assert.ErrorIs(t, err, sensorpipe.ErrConfiguration)
}

func TestNewSource_BME280(t *testing.T) {
	p := config.PipelineConfig{Sensor: config.SensorBME280, Quantity: config.QuantityPressure}
	_, err := newSource(nil, p)
	assert.ErrorIs(t, err, sensorpipe.ErrConfiguration, "a bus without periph access is rejected")

	bus := i2c.NewGenericBusFrom(&i2ctest.Playback{DontPanic: true})
	src, err := newSource(bus, p)
	require.NoError(t, err)
	_, err = src.Sample(context.Background())
	assert.ErrorContains(t, err, "bmxx80")
}

func TestValidRange(t *testing.T) {
	tests := []struct {
		name     string
		given    config.PipelineConfig
		expected environment.Range
	}{
		{"configured", config.PipelineConfig{Sensor: config.SensorBMP280, Range: &config.RangeConfig{Min: 0, Max: 60}}, environment.Range{Min: 0, Max: 60}},
		{"bmp280", config.PipelineConfig{Sensor: config.SensorBMP280}, environment.TemperatureRangeBMP280},
		{"hih6021 humidity", config.PipelineConfig{Sensor: config.SensorHIH6021, Quantity: config.QuantityHumidity}, environment.HumidityRange},
		{"bh1750", config.PipelineConfig{Sensor: config.SensorBH1750, Quantity: config.QuantityIlluminance}, environment.LightRangeBH1750},
		{"bme280 pressure", config.PipelineConfig{Sensor: config.SensorBME280, Quantity: config.QuantityPressure}, environment.PressureRangeBMxx80},
		{"mock", config.PipelineConfig{Sensor: config.SensorMock}, environment.Range{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, validRange(test.given))
		})
	}
}

func TestMockSourceRejectsOutOfRange(t *testing.T) {
	src := newMockSource(config.PipelineConfig{Sensor: config.SensorMock}, environment.Range{Min: 0, Max: 10})
	_, err := src.Sample(context.Background())
	assert.ErrorIs(t, err, sensorpipe.ErrInvalidReading)
}

func TestNewTransport_DryRun(t *testing.T) {
	cfg := config.Default().SignalK
	cfg.URL = "http://localhost:3000"
	transport, runner, err := newTransport(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Nil(t, runner)
	assert.IsType(t, &sink.LogTransport{}, transport)
}

func TestAuthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "from-login"})
	}))
	defer srv.Close()

	token, err := authorize(context.Background(), config.SignalKConfig{URL: srv.URL, Token: "static"})
	require.NoError(t, err)
	assert.Equal(t, "static", token)

	token, err = authorize(context.Background(), config.SignalKConfig{URL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, token)

	token, err = authorize(context.Background(), config.SignalKConfig{URL: srv.URL, Username: "admin", Password: "boat"})
	require.NoError(t, err)
	assert.Equal(t, "from-login", token)
}

func TestFindPipeline(t *testing.T) {
	cfg := mockConfig()
	p, err := findPipeline(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "engine-room", p.Name)
	p, err = findPipeline(cfg, "cabin-humidity")
	require.NoError(t, err)
	assert.Equal(t, "cabin-humidity", p.Name)
	_, err = findPipeline(cfg, "bilge")
	assert.Error(t, err)
}

func TestPrintPipelines(t *testing.T) {
	var out bytes.Buffer
	printPipelines(&out, config.Default())
	assert.Contains(t, out.String(), "engine-room")
	assert.Contains(t, out.String(), "0x77")
	assert.Contains(t, out.String(), "celsius-to-kelvin")
	assert.Contains(t, out.String(), "propulsion.engineRoom.temperature[drop]")
}

func TestInjectSession(t *testing.T) {
	transport := sink.NewMemoryTransport()
	s := &injectSession{transport: transport, known: []string{"a.b"}, path: "a.b"}
	ctx := context.Background()
	never := func(string) bool { return false }
	always := func(string) bool { return true }

	msg, err := s.handle(ctx, "21.5", never)
	require.NoError(t, err)
	assert.Equal(t, "a.b = 21.5", msg)

	msg, err = s.handle(ctx, "x.y 3", never)
	require.NoError(t, err)
	assert.Empty(t, msg, "unconfirmed path is skipped")
	assert.Equal(t, 1, transport.Calls())

	_, err = s.handle(ctx, "x.y 3", always)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.Calls())

	msg, err = s.handle(ctx, "path c.d", never)
	require.NoError(t, err)
	assert.Equal(t, "publishing to c.d", msg)
	assert.Equal(t, "c.d", s.path)

	_, err = s.handle(ctx, "warm", never)
	assert.Error(t, err)
	_, err = s.handle(ctx, "a b c", never)
	assert.Error(t, err)

	transport.SetConnected(false)
	_, err = s.handle(ctx, "a.b 1", never)
	assert.ErrorIs(t, err, sensorpipe.ErrNotConnected)
}

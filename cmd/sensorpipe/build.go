package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/adapter"
	"github.com/mklimuk/sensorpipe/config"
	"github.com/mklimuk/sensorpipe/environment"
	"github.com/mklimuk/sensorpipe/i2c"
	"github.com/mklimuk/sensorpipe/pipeline"
	"github.com/mklimuk/sensorpipe/signalk"
	"github.com/mklimuk/sensorpipe/sink"
)

func noClose() error { return nil }

// openBus opens the configured I2C bus. The returned close func is never nil.
func openBus(ctx context.Context, cfg config.BusConfig) (sensorpipe.I2CBus, func() error, error) {
	switch cfg.Adapter {
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(cfg.Device)
		if err != nil {
			return nil, noClose, err
		}
		if cfg.Speed > 0 {
			if err := bus.SetSpeed(int64(cfg.Speed)); err != nil {
				_ = bus.Close()
				return nil, noClose, err
			}
		}
		return bus, bus.Close, nil
	case config.AdapterNanoPi:
		bus, err := i2c.NewNanoPiBus(cfg.Number)
		if err != nil {
			return nil, noClose, err
		}
		return bus, bus.Close, nil
	case config.AdapterMCP2221:
		ad, err := adapter.Open(cfg.Index)
		if err != nil {
			return nil, noClose, fmt.Errorf("adapter initialization error: %w", err)
		}
		if cfg.Speed > 0 {
			if err := ad.SetSpeed(ctx, cfg.Speed); err != nil {
				_ = ad.Close()
				return nil, noClose, err
			}
		}
		return ad, ad.Close, nil
	case config.AdapterNone:
		return nil, noClose, nil
	}
	return nil, noClose, sensorpipe.ConfigError("unknown bus adapter %q", cfg.Adapter)
}

func validRange(p config.PipelineConfig) environment.Range {
	if p.Range != nil {
		return environment.Range{Min: p.Range.Min, Max: p.Range.Max}
	}
	switch {
	case p.Sensor == config.SensorMock:
		return environment.Range{}
	case p.Measures() == config.QuantityHumidity:
		return environment.HumidityRange
	case p.Sensor == config.SensorBMP280:
		return environment.TemperatureRangeBMP280
	case p.Sensor == config.SensorTC74:
		return environment.TemperatureRangeTC74
	case p.Sensor == config.SensorSHTC3:
		return environment.TemperatureRangeSHTC3
	case p.Sensor == config.SensorHIH6021:
		return environment.TemperatureRangeHIH6021
	case p.Sensor == config.SensorBH1750:
		return environment.LightRangeBH1750
	case p.Measures() == config.QuantityPressure:
		return environment.PressureRangeBMxx80
	case p.Sensor == config.SensorBME280:
		return environment.TemperatureRangeBMP280
	}
	return environment.Range{}
}

type tempHumSensor interface {
	environment.TemperatureSensor
	environment.HumiditySensor
}

func newSource(bus sensorpipe.I2CBus, p config.PipelineConfig) (sensorpipe.Source, error) {
	r := validRange(p)
	opts := []environment.Option{environment.WithAddress(p.Address)}
	var th tempHumSensor
	switch p.Sensor {
	case config.SensorBMP280:
		return environment.Temperature(environment.NewBMP280(bus, opts...), r), nil
	case config.SensorTC74:
		return environment.Temperature(environment.NewTC74(bus, opts...), r), nil
	case config.SensorBH1750:
		return environment.Illuminance(environment.NewBH1750(bus, opts...), r), nil
	case config.SensorSHTC3:
		th = environment.NewSHTC3(bus)
	case config.SensorHIH6021:
		th = environment.NewHIH6021(bus, opts...)
	case config.SensorBME280:
		pb, ok := bus.(environment.PeriphBus)
		if !ok {
			return nil, sensorpipe.ConfigError("sensor %s needs the %s adapter", p.Sensor, config.AdapterGeneric)
		}
		src, err := environment.Env(environment.NewBMxx80(pb.Periph(), opts...), environment.Quantity(p.Measures()), r)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SensorMock:
		return newMockSource(p, r), nil
	default:
		return nil, sensorpipe.ConfigError("unknown sensor %q", p.Sensor)
	}
	if p.Measures() == config.QuantityHumidity {
		return environment.Humidity(th, r), nil
	}
	return environment.Temperature(th, r), nil
}

func newMockSource(p config.PipelineConfig, r environment.Range) sensorpipe.Source {
	m := config.MockConfig{Start: 20, Step: 0.25, Min: 15, Max: 25}
	if p.Mock != nil {
		m = *p.Mock
	}
	drift := environment.Drift(m.Start, m.Step, m.Min, m.Max)
	switch p.Measures() {
	case config.QuantityHumidity:
		return environment.Humidity(environment.NewMockSensor(environment.Constant(0), environment.HumidityBehaviorFunc(drift)), r)
	case config.QuantityIlluminance:
		return environment.Illuminance(environment.NewMockLightSensor(func(ctx context.Context) (int, error) {
			v, err := drift(ctx)
			return int(v), err
		}), r)
	default:
		return environment.Temperature(environment.NewMockTemperatureSensor(drift), r)
	}
}

// transportRunner keeps a transport connected until ctx is done.
type transportRunner func(ctx context.Context) error

// newTransport connects to Signal K, or logs readings when no server is
// configured or dryRun is set.
func newTransport(ctx context.Context, cfg config.SignalKConfig, dryRun bool) (sink.Transport, transportRunner, error) {
	if cfg.URL == "" || dryRun {
		return sink.NewLogTransport(slog.Default()), nil, nil
	}
	token, err := authorize(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	reconnect := cfg.Reconnect
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	client, err := signalk.NewClient(cfg.URL,
		signalk.WithToken(token),
		signalk.WithSourceLabel(cfg.Label),
		signalk.WithBackoff(reconnect, max(reconnect, time.Minute)),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Run, nil
}

// authorize returns the configured token, or obtains one by login or device
// access request. No credentials means anonymous access.
func authorize(ctx context.Context, cfg config.SignalKConfig) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.Username == "" && cfg.ClientID == "" {
		return "", nil
	}
	auth, err := signalk.NewAuth(cfg.URL, signalk.WithAuthLogger(slog.Default()))
	if err != nil {
		return "", err
	}
	if cfg.Username != "" {
		return auth.Login(ctx, cfg.Username, cfg.Password)
	}
	return auth.RequestAccess(ctx, cfg.ClientID, cfg.Description)
}

// buildPipelines creates one pipeline per configuration entry. Sinks are
// created once per path so pipelines naming the same path share it.
func buildPipelines(cfg *config.Config, bus sensorpipe.I2CBus, transport sink.Transport) ([]*pipeline.Pipeline, error) {
	endpoints := make(map[string]*sink.Endpoint)
	res := make([]*pipeline.Pipeline, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		src, err := newSource(bus, pc)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
		}
		transforms, err := pc.BuildTransforms()
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
		}
		sinks := make([]sensorpipe.Sink, 0, len(pc.Sinks))
		for _, sc := range pc.Sinks {
			ep, ok := endpoints[sc.Path]
			if !ok {
				policy, err := sink.ParsePolicy(sc.Policy)
				if err != nil {
					return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
				}
				ep, err = sink.New(sc.Path, transport, sink.WithPolicy(policy))
				if err != nil {
					return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
				}
				endpoints[sc.Path] = ep
			}
			sinks = append(sinks, ep)
		}
		b := pipeline.New(pc.Name).
			Every(pc.Interval).
			From(src).
			Apply(transforms...).
			To(sinks...)
		if pc.Immediate {
			b.Immediate()
		}
		p, err := b.Build()
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// findPipeline returns the named pipeline config, or the first one.
func findPipeline(cfg *config.Config, name string) (config.PipelineConfig, error) {
	if name == "" {
		return cfg.Pipelines[0], nil
	}
	for _, p := range cfg.Pipelines {
		if p.Name == name {
			return p, nil
		}
	}
	return config.PipelineConfig{}, fmt.Errorf("no pipeline named %q", name)
}

package pipeline

import (
	"log/slog"
	"time"

	"github.com/mklimuk/sensorpipe"
)

// Builder assembles a Pipeline. The topology is fixed once Build returns.
//
//	p, err := pipeline.New("engine-room").
//		Every(2 * time.Second).
//		From(source).
//		Apply(transform.CelsiusToKelvin).
//		To(sink).
//		Build()
type Builder struct {
	name       string
	interval   time.Duration
	immediate  bool
	source     sensorpipe.Source
	transforms []sensorpipe.Transform
	sinks      []sensorpipe.Sink
	log        *slog.Logger
}

func New(name string) *Builder {
	return &Builder{name: name}
}

// Every sets the sampling interval. Millisecond granularity: sub-millisecond
// remainders are truncated.
func (b *Builder) Every(interval time.Duration) *Builder {
	b.interval = interval.Truncate(time.Millisecond)
	return b
}

// Immediate makes the first cycle due on the first tick after registration.
func (b *Builder) Immediate() *Builder {
	b.immediate = true
	return b
}

func (b *Builder) From(source sensorpipe.Source) *Builder {
	b.source = source
	return b
}

// Apply appends transforms; they run in the order given.
func (b *Builder) Apply(transforms ...sensorpipe.Transform) *Builder {
	b.transforms = append(b.transforms, transforms...)
	return b
}

func (b *Builder) To(sinks ...sensorpipe.Sink) *Builder {
	b.sinks = append(b.sinks, sinks...)
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

func (b *Builder) Build() (*Pipeline, error) {
	if b.name == "" {
		return nil, sensorpipe.ConfigError("pipeline name must not be empty")
	}
	if b.interval <= 0 {
		return nil, sensorpipe.ConfigError("pipeline %s: interval must be at least 1ms, got %s", b.name, b.interval)
	}
	if b.source == nil {
		return nil, sensorpipe.ConfigError("pipeline %s: missing source", b.name)
	}
	if len(b.sinks) == 0 {
		return nil, sensorpipe.ConfigError("pipeline %s: no sinks", b.name)
	}
	seen := make(map[string]struct{}, len(b.sinks))
	for _, s := range b.sinks {
		if s == nil {
			return nil, sensorpipe.ConfigError("pipeline %s: nil sink", b.name)
		}
		if _, ok := seen[s.Path()]; ok {
			return nil, sensorpipe.ConfigError("pipeline %s: duplicate sink path %q", b.name, s.Path())
		}
		seen[s.Path()] = struct{}{}
	}
	for i, t := range b.transforms {
		if t == nil {
			return nil, sensorpipe.ConfigError("pipeline %s: nil transform at position %d", b.name, i)
		}
	}
	log := b.log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		name:       b.name,
		interval:   b.interval,
		immediate:  b.immediate,
		source:     b.source,
		transforms: append([]sensorpipe.Transform(nil), b.transforms...),
		sinks:      append([]sensorpipe.Sink(nil), b.sinks...),
		log:        log.With("pipeline", b.name),
	}, nil
}

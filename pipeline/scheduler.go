package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/sink"
)

type SchedulerOpt func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) SchedulerOpt {
	return func(s *Scheduler) {
		s.clock = c
	}
}

func WithLogger(l *slog.Logger) SchedulerOpt {
	return func(s *Scheduler) {
		s.log = l
	}
}

// WithObserver attaches observers to every pipeline registered afterwards.
func WithObserver(obs ...Observer) SchedulerOpt {
	return func(s *Scheduler) {
		s.observers = append(s.observers, obs...)
	}
}

// Scheduler is the cooperative event loop. It is created once by the host
// program and driven by repeated Tick calls (or Run). Tick, Register and Run
// must be called from a single goroutine.
type Scheduler struct {
	clock     clock.Clock
	now       time.Time
	pipelines []*Pipeline
	names     map[string]struct{}
	sinks     *sink.Registry
	flushers  []sensorpipe.Flusher
	observers Observers
	log       *slog.Logger
}

func NewScheduler(opts ...SchedulerOpt) *Scheduler {
	s := &Scheduler{
		clock: clock.New(),
		names: make(map[string]struct{}),
		sinks: sink.NewRegistry(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.now = s.clock.Now()
	return s
}

// Register adds a pipeline. Pipelines fire in registration order. Errors
// wrap sensorpipe.ErrConfiguration and leave the scheduler unchanged.
func (s *Scheduler) Register(p *Pipeline) error {
	if p == nil {
		return sensorpipe.ConfigError("nil pipeline")
	}
	if _, ok := s.names[p.name]; ok {
		return sensorpipe.ConfigError("duplicate pipeline name %q", p.name)
	}
	for _, sk := range p.sinks {
		existing, ok := s.sinks.Get(sk.Path())
		if ok && existing != sk {
			return sensorpipe.ConfigError("pipeline %s: sink path %q already used by another sink", p.name, sk.Path())
		}
	}
	for _, sk := range p.sinks {
		if _, ok := s.sinks.Get(sk.Path()); ok {
			continue
		}
		if err := s.sinks.Add(sk); err != nil {
			return err
		}
		if f, ok := sk.(sensorpipe.Flusher); ok {
			s.flushers = append(s.flushers, f)
		}
	}
	s.names[p.name] = struct{}{}
	if len(s.observers) > 0 {
		p.observer = s.observers
	}
	p.reset(s.clock.Now())
	s.pipelines = append(s.pipelines, p)
	s.log.Info("pipeline registered", "pipeline", p.name, "interval", p.interval, "sinks", len(p.sinks))
	return nil
}

// Pipelines returns the registered pipelines in firing order.
func (s *Scheduler) Pipelines() []*Pipeline {
	return append([]*Pipeline(nil), s.pipelines...)
}

// Sinks returns every distinct sink, ordered by path.
func (s *Scheduler) Sinks() []sensorpipe.Sink {
	return s.sinks.All()
}

// Now is the scheduler time as of the last tick.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// Tick advances the scheduler time, retries pending sink values and runs one
// cycle of every due pipeline, in registration order. A cycle always runs to
// completion before the next pipeline is considered.
func (s *Scheduler) Tick(ctx context.Context) []Cycle {
	s.now = s.clock.Now()
	for _, f := range s.flushers {
		if err := f.Flush(ctx); err != nil {
			s.log.Debug("flush failed", "error", err)
		}
	}
	var cycles []Cycle
	for _, p := range s.pipelines {
		if !p.Due(s.now) {
			continue
		}
		cycles = append(cycles, p.Fire(ctx, s.now))
	}
	return cycles
}

// Run is the host loop: it ticks every resolution until ctx is done. The
// resolution should not exceed the shortest pipeline interval.
func (s *Scheduler) Run(ctx context.Context, resolution time.Duration) error {
	if resolution <= 0 {
		return sensorpipe.ConfigError("tick resolution must be positive, got %s", resolution)
	}
	for _, p := range s.pipelines {
		if p.interval < resolution {
			s.log.Warn("tick resolution longer than pipeline interval", "pipeline", p.name, "interval", p.interval, "resolution", resolution)
		}
	}
	ticker := s.clock.Ticker(resolution)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

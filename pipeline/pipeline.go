// Package pipeline binds value sources, transforms and sinks into periodic
// pipelines and drives them from a cooperative, single-threaded scheduler.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/snsctx"
)

type State int

const (
	Idle State = iota
	Due
	Sampling
	Publishing
)

func (s State) String() string {
	switch s {
	case Due:
		return "due"
	case Sampling:
		return "sampling"
	case Publishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Cycle describes one Idle to Idle pass of a pipeline.
type Cycle struct {
	Pipeline  string
	Started   time.Time
	Reading   sensorpipe.Reading
	SourceErr error
	SinkErrs  []error
	Published int
}

// Skipped reports whether the source failed and nothing was published.
func (c Cycle) Skipped() bool {
	return c.SourceErr != nil
}

// Pipeline samples one source on a fixed interval and forwards the
// transformed value to its sinks. It is not safe for concurrent use; the
// scheduler guarantees its cycles never overlap.
type Pipeline struct {
	name       string
	interval   time.Duration
	immediate  bool
	source     sensorpipe.Source
	transforms []sensorpipe.Transform
	sinks      []sensorpipe.Sink

	state     State
	start     time.Time
	lastFire  time.Time
	fired     bool
	latest    sensorpipe.Reading
	hasLatest bool
	cycles    uint64

	log      *slog.Logger
	observer Observer
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) Interval() time.Duration {
	return p.interval
}

func (p *Pipeline) State() State {
	return p.state
}

// Sinks returns the sinks in publish order.
func (p *Pipeline) Sinks() []sensorpipe.Sink {
	return append([]sensorpipe.Sink(nil), p.sinks...)
}

// Cycles counts completed cycles, skipped ones included.
func (p *Pipeline) Cycles() uint64 {
	return p.cycles
}

// Latest returns the last successfully sampled and transformed reading.
func (p *Pipeline) Latest() (sensorpipe.Reading, bool) {
	return p.latest, p.hasLatest
}

// reset marks the moment the pipeline was registered.
func (p *Pipeline) reset(now time.Time) {
	p.start = now
	p.fired = false
	p.state = Idle
}

// Due reports whether a cycle should run at now. The first cycle runs one
// interval after registration unless the pipeline was built Immediate.
func (p *Pipeline) Due(now time.Time) bool {
	if !p.fired {
		return p.immediate || now.Sub(p.start) >= p.interval
	}
	return now.Sub(p.lastFire) >= p.interval
}

// Fire runs exactly one cycle. The next cycle is due one interval after now,
// so an overrun delays the cadence instead of triggering catch-up cycles.
func (p *Pipeline) Fire(ctx context.Context, now time.Time) Cycle {
	p.state = Due
	p.lastFire = now
	p.fired = true
	defer func() {
		p.state = Idle
		p.cycles++
	}()

	cycle := Cycle{Pipeline: p.name, Started: now}

	p.state = Sampling
	raw, err := p.source.Sample(snsctx.WithPipeline(ctx, p.name))
	if err != nil {
		cycle.SourceErr = &sensorpipe.SourceError{Pipeline: p.name, Err: err}
		p.log.Warn("sample failed, skipping cycle", "error", err)
		p.notifySourceFailed(cycle.SourceErr)
		return cycle
	}
	value := raw
	for _, t := range p.transforms {
		value = t(value)
	}
	r := sensorpipe.Reading{Value: value, Timestamp: now}
	p.latest = r
	p.hasLatest = true
	cycle.Reading = r
	p.log.Debug("sampled", "raw", raw, "value", value)
	if p.observer != nil {
		p.observer.Sampled(p.name, r)
	}

	p.state = Publishing
	for _, s := range p.sinks {
		err := s.Publish(ctx, r)
		if err != nil {
			cycle.SinkErrs = append(cycle.SinkErrs, err)
			p.log.Debug("publish failed", "sink", s.Path(), "error", err)
			if p.observer != nil {
				p.observer.SinkFailed(p.name, s.Path(), err)
			}
			continue
		}
		cycle.Published++
		if p.observer != nil {
			p.observer.Published(p.name, s.Path(), r)
		}
	}
	return cycle
}

func (p *Pipeline) notifySourceFailed(err error) {
	if p.observer != nil {
		p.observer.SourceFailed(p.name, err)
	}
}

package sensorpipe

import (
	"context"
	"time"
)

// Reading is a converted sample. Only the latest Reading is ever kept; a new
// one supersedes the previous.
type Reading struct {
	Value     float64
	Timestamp time.Time
}

// Source produces a raw reading. Implementations must return within a short,
// bounded time and have no side effects other than the underlying read.
type Source interface {
	Sample(ctx context.Context) (float64, error)
}

// SourceFunc adapts a plain read function to Source.
type SourceFunc func(ctx context.Context) (float64, error)

func (f SourceFunc) Sample(ctx context.Context) (float64, error) {
	return f(ctx)
}

// Transform is a pure conversion applied to a raw reading.
type Transform func(float64) float64

// Chain composes transforms left to right. An empty chain is the identity.
func Chain(ts ...Transform) Transform {
	return func(v float64) float64 {
		for _, t := range ts {
			v = t(v)
		}
		return v
	}
}

// Sink is a named endpoint accepting converted values. Publish must never
// block the caller waiting for connectivity.
type Sink interface {
	Path() string
	Publish(ctx context.Context, r Reading) error
}

// Flusher is implemented by sinks that may hold an undelivered value.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Connectivity is implemented by sinks able to report their link state.
type Connectivity interface {
	Connected() bool
}

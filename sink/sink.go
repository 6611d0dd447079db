// Package sink provides named endpoints that forward converted readings to a
// transport while tracking its connectivity.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mklimuk/sensorpipe"
)

// Transport delivers a value for a path to a remote or local observer.
type Transport interface {
	Publish(ctx context.Context, path string, r sensorpipe.Reading) error
	Connected() bool
}

// Policy decides what happens to a value that could not be delivered.
type Policy int

const (
	// PolicyDrop discards undelivered values.
	PolicyDrop Policy = iota
	// PolicyRetryLatest keeps the most recent undelivered value and delivers
	// it on the next flush after the transport reconnects.
	PolicyRetryLatest
)

func (p Policy) String() string {
	switch p {
	case PolicyRetryLatest:
		return "retry-latest"
	default:
		return "drop"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "drop":
		return PolicyDrop, nil
	case "retry-latest", "retry":
		return PolicyRetryLatest, nil
	}
	return PolicyDrop, sensorpipe.ConfigError("unknown sink policy %q", s)
}

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

type Stats struct {
	Delivered uint64
	Dropped   uint64
	Failed    uint64
}

type Option func(*Endpoint)

func WithPolicy(p Policy) Option {
	return func(e *Endpoint) {
		e.policy = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		e.log = l
	}
}

var (
	_ sensorpipe.Sink         = &Endpoint{}
	_ sensorpipe.Flusher      = &Endpoint{}
	_ sensorpipe.Connectivity = &Endpoint{}
)

// Endpoint is a Sink bound to a single path on a transport.
type Endpoint struct {
	mx        sync.Mutex
	path      string
	transport Transport
	policy    Policy
	state     State
	pending   *sensorpipe.Reading
	stats     Stats
	log       *slog.Logger
}

// New creates an endpoint for path. The path is passed to the transport
// unmodified.
func New(path string, transport Transport, opts ...Option) (*Endpoint, error) {
	if strings.TrimSpace(path) == "" {
		return nil, sensorpipe.ConfigError("sink path must not be empty")
	}
	if transport == nil {
		return nil, sensorpipe.ConfigError("sink %s: missing transport", path)
	}
	e := &Endpoint{
		path:      path,
		transport: transport,
		policy:    PolicyDrop,
		state:     Disconnected,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("sink", path)
	if transport.Connected() {
		e.state = Connected
	}
	return e, nil
}

func (e *Endpoint) Path() string {
	return e.path
}

func (e *Endpoint) Policy() Policy {
	return e.policy
}

func (e *Endpoint) State() State {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.state
}

func (e *Endpoint) Connected() bool {
	return e.transport.Connected()
}

func (e *Endpoint) Stats() Stats {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.stats
}

// Pending returns the value held for redelivery under PolicyRetryLatest.
func (e *Endpoint) Pending() (sensorpipe.Reading, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.pending == nil {
		return sensorpipe.Reading{}, false
	}
	return *e.pending, true
}

// Publish attempts delivery of r. On a disconnected transport the value is
// dropped or kept as pending depending on the policy and a *SinkError
// wrapping ErrNotConnected is returned.
func (e *Endpoint) Publish(ctx context.Context, r sensorpipe.Reading) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	// a newer value always supersedes the pending one
	if e.pending != nil {
		e.pending = nil
		e.stats.Dropped++
	}
	return e.deliver(ctx, r)
}

// Flush delivers the pending value if the transport is connected again.
// It is a no-op when nothing is pending.
func (e *Endpoint) Flush(ctx context.Context) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.pending == nil {
		return nil
	}
	if !e.observe() {
		return nil
	}
	r := *e.pending
	e.pending = nil
	e.log.Debug("flushing pending value", "value", r.Value)
	return e.deliver(ctx, r)
}

func (e *Endpoint) deliver(ctx context.Context, r sensorpipe.Reading) error {
	if !e.observe() {
		e.undelivered(r, true)
		return &sensorpipe.SinkError{Path: e.path, Err: sensorpipe.ErrNotConnected}
	}
	err := e.transport.Publish(ctx, e.path, r)
	if err != nil {
		e.stats.Failed++
		// the transport may have noticed the link went down while sending
		connected := e.observe()
		e.undelivered(r, !connected || errors.Is(err, sensorpipe.ErrNotConnected))
		return &sensorpipe.SinkError{Path: e.path, Err: fmt.Errorf("publish: %w", err)}
	}
	e.stats.Delivered++
	return nil
}

// undelivered keeps r for redelivery only when it was lost to a connectivity
// failure. A value refused by a connected peer is never retried.
func (e *Endpoint) undelivered(r sensorpipe.Reading, linkDown bool) {
	if e.policy == PolicyRetryLatest && linkDown {
		e.pending = &r
		return
	}
	e.stats.Dropped++
}

// observe polls the transport connectivity signal and records transitions.
func (e *Endpoint) observe() bool {
	state := Disconnected
	if e.transport.Connected() {
		state = Connected
	}
	if state != e.state {
		e.log.Info("sink connectivity changed", "from", e.state, "to", state)
		e.state = state
	}
	return state == Connected
}

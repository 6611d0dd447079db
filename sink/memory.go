package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mklimuk/sensorpipe"
)

// Delivery is a value accepted by a MemoryTransport.
type Delivery struct {
	Path    string
	Reading sensorpipe.Reading
}

// MemoryTransport keeps delivered values in memory. Connectivity and
// rejection can be switched at runtime which makes it handy for dry runs
// and tests.
type MemoryTransport struct {
	mx         sync.Mutex
	connected  bool
	reject     error
	calls      int
	deliveries []Delivery
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{connected: true}
}

func (m *MemoryTransport) SetConnected(connected bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.connected = connected
}

// Reject makes every following publish fail with err wrapping
// ErrRejected. A nil err restores normal delivery.
func (m *MemoryTransport) Reject(err error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.reject = err
}

func (m *MemoryTransport) Connected() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.connected
}

func (m *MemoryTransport) Publish(ctx context.Context, path string, r sensorpipe.Reading) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.calls++
	if !m.connected {
		return sensorpipe.ErrNotConnected
	}
	if m.reject != nil {
		return &rejection{err: m.reject}
	}
	m.deliveries = append(m.deliveries, Delivery{Path: path, Reading: r})
	return nil
}

// Calls counts every Publish, successful or not.
func (m *MemoryTransport) Calls() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.calls
}

func (m *MemoryTransport) Deliveries() []Delivery {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

// Last returns the most recent delivery for path.
func (m *MemoryTransport) Last(path string) (sensorpipe.Reading, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i := len(m.deliveries) - 1; i >= 0; i-- {
		if m.deliveries[i].Path == path {
			return m.deliveries[i].Reading, true
		}
	}
	return sensorpipe.Reading{}, false
}

type rejection struct {
	err error
}

func (r *rejection) Error() string {
	return sensorpipe.ErrRejected.Error() + ": " + r.err.Error()
}

func (r *rejection) Is(target error) bool {
	return target == sensorpipe.ErrRejected
}

func (r *rejection) Unwrap() error {
	return r.err
}

// LogTransport writes every value to the logger. It is always connected.
type LogTransport struct {
	log *slog.Logger
}

func NewLogTransport(log *slog.Logger) *LogTransport {
	if log == nil {
		log = slog.Default()
	}
	return &LogTransport{log: log}
}

func (l *LogTransport) Connected() bool {
	return true
}

func (l *LogTransport) Publish(ctx context.Context, path string, r sensorpipe.Reading) error {
	l.log.InfoContext(ctx, "value", "path", path, "value", r.Value, "timestamp", r.Timestamp)
	return nil
}

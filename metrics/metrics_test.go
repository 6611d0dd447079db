package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/pipeline"
	"github.com/mklimuk/sensorpipe/sink"
	"github.com/mklimuk/sensorpipe/transform"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&sensorpipe.SinkError{Path: "a", Err: sensorpipe.ErrNotConnected}, "not_connected"},
		{fmt.Errorf("x: %w", sensorpipe.ErrRejected), "rejected"},
		{&sensorpipe.SourceError{Pipeline: "p", Err: sensorpipe.ErrInvalidReading}, "invalid"},
		{sensorpipe.ErrStaleData, "stale"},
		{sensorpipe.ErrBusBusy, "bus_busy"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "error"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, Reason(test.err))
		})
	}
}

func TestCollector_ObservesScheduler(t *testing.T) {
	mock := clock.NewMock()
	col := New()
	transport := sink.NewMemoryTransport()
	endpoint, err := sink.New("propulsion.engineRoom.temperature", transport)
	require.NoError(t, err)

	values := []error{nil, errors.New("i2c timeout"), nil}
	i := 0
	src := sensorpipe.SourceFunc(func(ctx context.Context) (float64, error) {
		err := values[i]
		i++
		return 21.5, err
	})
	p, err := pipeline.New("engine-room").Every(2 * time.Second).From(src).
		Apply(transform.CelsiusToKelvin).To(endpoint).Build()
	require.NoError(t, err)

	sched := pipeline.NewScheduler(pipeline.WithClock(mock), pipeline.WithObserver(col))
	require.NoError(t, sched.Register(p))
	require.NoError(t, col.WatchSinks(sched.Sinks()))

	ctx := context.Background()
	mock.Add(2 * time.Second)
	sched.Tick(ctx)
	assert.InDelta(t, 294.65, testutil.ToFloat64(col.LastValue.WithLabelValues("engine-room")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.PublishedTotal.WithLabelValues("engine-room", "propulsion.engineRoom.temperature")))

	mock.Add(2 * time.Second)
	sched.Tick(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.SourceFailuresTotal.WithLabelValues("engine-room", "error")))

	transport.SetConnected(false)
	mock.Add(2 * time.Second)
	sched.Tick(ctx)
	assert.Equal(t, 2.0, testutil.ToFloat64(col.SamplesTotal.WithLabelValues("engine-room")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.SinkFailuresTotal.WithLabelValues("engine-room", "propulsion.engineRoom.temperature", "not_connected")))

	expected := `
# HELP sensorpipe_sink_connected 1 when the sink transport is connected
# TYPE sensorpipe_sink_connected gauge
sensorpipe_sink_connected{path="propulsion.engineRoom.temperature"} 0
`
	require.NoError(t, testutil.GatherAndCompare(col.Registry(), strings.NewReader(expected), "sensorpipe_sink_connected"))
}

func TestCollector_WatchSinksDuplicate(t *testing.T) {
	col := New()
	endpoint, err := sink.New("a.b", sink.NewMemoryTransport())
	require.NoError(t, err)
	require.NoError(t, col.WatchSinks([]sensorpipe.Sink{endpoint}))
	assert.Error(t, col.WatchSinks([]sensorpipe.Sink{endpoint}))
}

func TestCollector_Handler(t *testing.T) {
	col := New()
	col.Sampled("engine-room", sensorpipe.Reading{Value: 294.65, Timestamp: time.Unix(1700000000, 0)})
	rec := httptest.NewRecorder()
	col.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `sensorpipe_value{pipeline="engine-room"} 294.65`)
	assert.Contains(t, body, `sensorpipe_last_sample_timestamp_seconds{pipeline="engine-room"} 1.7e+09`)
	assert.Contains(t, body, "go_goroutines")
}

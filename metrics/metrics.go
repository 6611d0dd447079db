package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mklimuk/sensorpipe"
	"github.com/mklimuk/sensorpipe/pipeline"
)

const namespace = "sensorpipe"

var _ pipeline.Observer = &Collector{}

// Collector turns pipeline outcomes into Prometheus metrics. It owns its
// registry so several collectors (tests) never clash.
type Collector struct {
	registry *prometheus.Registry

	SamplesTotal        *prometheus.CounterVec
	SourceFailuresTotal *prometheus.CounterVec
	PublishedTotal      *prometheus.CounterVec
	SinkFailuresTotal   *prometheus.CounterVec
	LastValue           *prometheus.GaugeVec
	LastSample          *prometheus.GaugeVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_total",
				Help:      "Successful source samples",
			},
			[]string{"pipeline"},
		),
		SourceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_failures_total",
				Help:      "Skipped cycles caused by source failures",
			},
			[]string{"pipeline", "reason"},
		),
		PublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "published_total",
				Help:      "Readings accepted by a sink",
			},
			[]string{"pipeline", "path"},
		),
		SinkFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_failures_total",
				Help:      "Failed sink publishes",
			},
			[]string{"pipeline", "path", "reason"},
		),
		LastValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "value",
				Help:      "Latest transformed reading",
			},
			[]string{"pipeline"},
		),
		LastSample: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sample_timestamp_seconds",
				Help:      "Time of the latest successful sample",
			},
			[]string{"pipeline"},
		),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Sampled(name string, r sensorpipe.Reading) {
	c.SamplesTotal.WithLabelValues(name).Inc()
	c.LastValue.WithLabelValues(name).Set(r.Value)
	c.LastSample.WithLabelValues(name).Set(float64(r.Timestamp.UnixMilli()) / 1000)
}

func (c *Collector) SourceFailed(name string, err error) {
	c.SourceFailuresTotal.WithLabelValues(name, Reason(err)).Inc()
}

func (c *Collector) Published(name, path string, r sensorpipe.Reading) {
	c.PublishedTotal.WithLabelValues(name, path).Inc()
}

func (c *Collector) SinkFailed(name, path string, err error) {
	c.SinkFailuresTotal.WithLabelValues(name, path, Reason(err)).Inc()
}

// WatchSinks exports the connectivity of every sink that reports it.
func (c *Collector) WatchSinks(sinks []sensorpipe.Sink) error {
	for _, s := range sinks {
		conn, ok := s.(sensorpipe.Connectivity)
		if !ok {
			continue
		}
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sink_connected",
			Help:        "1 when the sink transport is connected",
			ConstLabels: prometheus.Labels{"path": s.Path()},
		}, func() float64 {
			if conn.Connected() {
				return 1
			}
			return 0
		})
		if err := c.registry.Register(gauge); err != nil {
			return fmt.Errorf("metrics: sink %s: %w", s.Path(), err)
		}
	}
	return nil
}

// Reason maps an error to a low cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, sensorpipe.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, sensorpipe.ErrRejected):
		return "rejected"
	case errors.Is(err, sensorpipe.ErrInvalidReading):
		return "invalid"
	case errors.Is(err, sensorpipe.ErrStaleData):
		return "stale"
	case errors.Is(err, sensorpipe.ErrBusBusy):
		return "bus_busy"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

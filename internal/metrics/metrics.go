// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "bentokaze"

// Collector holds the optimizer metrics on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	BuildDuration prometheus.Histogram
	SolveDuration *prometheus.HistogramVec
	Exports       *prometheus.CounterVec
	ModelSize     *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Optimization runs by solve status",
		},
		[]string{"status"},
	)

	buildDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "model_build_duration_seconds",
			Help:      "Time spent building the program",
			Buckets:   prometheus.DefBuckets,
		},
	)

	solveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "solve_duration_seconds",
			Help:      "Solver wall time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"solver"},
	)

	exports := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "exports_total",
			Help:      "Model files written by format",
		},
		[]string{"format"},
	)

	modelSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "model_size",
			Help:      "Size of the last built program",
		},
		[]string{"kind"},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	registry.MustRegister(runs, buildDuration, solveDuration, exports, modelSize, httpRequests)

	return &Collector{
		registry:      registry,
		Runs:          runs,
		BuildDuration: buildDuration,
		SolveDuration: solveDuration,
		Exports:       exports,
		ModelSize:     modelSize,
		HTTPRequests:  httpRequests,
	}
}

func (c *Collector) ObserveBuild(d time.Duration, variables, constraints int) {
	if c == nil {
		return
	}
	c.BuildDuration.Observe(d.Seconds())
	c.ModelSize.WithLabelValues("variables").Set(float64(variables))
	c.ModelSize.WithLabelValues("constraints").Set(float64(constraints))
}

func (c *Collector) ObserveSolve(solver, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.SolveDuration.WithLabelValues(solver).Observe(d.Seconds())
	c.Runs.WithLabelValues(status).Inc()
}

func (c *Collector) IncExport(format string) {
	if c == nil {
		return
	}
	c.Exports.WithLabelValues(format).Inc()
}

func (c *Collector) IncRequest(method, route, status string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the power flow Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Solves     *prometheus.CounterVec
	Iterations *prometheus.HistogramVec
	Durations  *prometheus.HistogramVec
	Islands    *prometheus.GaugeVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry returns the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerflow_solves_total",
		Help: "Inner power flow solves, labeled by solver kind and outcome.",
	}, []string{"kind", "status"}), "powerflow_solves_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powerflow_iterations",
		Help:    "Iterations (or series orders) used per inner solve.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 30, 50, 100},
	}, []string{"kind"}), "powerflow_iterations")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powerflow_solve_duration_seconds",
		Help:    "Inner solve latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"}), "powerflow_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	islands, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerflow_islands",
		Help: "Islands found in the last run, labeled by live or dead.",
	}, []string{"state"}), "powerflow_islands")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:   gatherer,
		Solves:     solves,
		Iterations: iterations,
		Durations:  durations,
		Islands:    islands,
	}, nil
}

// ObserveSolve records one inner solve.
func (c *Collector) ObserveSolve(kind string, converged bool, iterations int, elapsed time.Duration) {
	if c == nil {
		return
	}
	status := "converged"
	if !converged {
		status = "failed"
	}
	c.Solves.WithLabelValues(kind, status).Inc()
	c.Iterations.WithLabelValues(kind).Observe(float64(iterations))
	c.Durations.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) SetIslands(live, dead int) {
	if c == nil {
		return
	}
	c.Islands.WithLabelValues("live").Set(float64(live))
	c.Islands.WithLabelValues("dead").Set(float64(dead))
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

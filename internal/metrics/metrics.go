package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for the pipeline. All methods are
// safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	OracleCalls   *prometheus.CounterVec
	Fallbacks     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	GoldClassifications *prometheus.CounterVec
	Verdicts            *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_calls_total",
				Help:      "Calls to the embedding, model and store oracles by outcome",
			},
			[]string{"oracle", "outcome"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Times a component degraded to its fallback path",
			},
			[]string{"component", "reason"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		GoldClassifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gold_classifications_total",
				Help:      "Golden-answer match classifications",
			},
			[]string{"classification"},
		),
		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Credibility verdicts by policy and decision",
			},
			[]string{"policy", "decision"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.OracleCalls,
		c.Fallbacks,
		c.StageDuration,
		c.GoldClassifications,
		c.Verdicts,
		prometheus.NewGoCollector(),
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// OracleCall records an oracle call; outcome is "ok" or "error"
func (c *Collector) OracleCall(oracle string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.OracleCalls.WithLabelValues(oracle, outcome).Inc()
}

// Fallback records that a component took its degraded path
func (c *Collector) Fallback(component, reason string) {
	if c == nil {
		return
	}
	c.Fallbacks.WithLabelValues(component, reason).Inc()
}

// ObserveStage records how long a pipeline stage took
func (c *Collector) ObserveStage(stage string, start time.Time) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// GoldClassification records a gold match outcome
func (c *Collector) GoldClassification(class string) {
	if c == nil {
		return
	}
	c.GoldClassifications.WithLabelValues(class).Inc()
}

// Verdict records a credibility decision
func (c *Collector) Verdict(policy, decision string) {
	if c == nil {
		return
	}
	c.Verdicts.WithLabelValues(policy, decision).Inc()
}

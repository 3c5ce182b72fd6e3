// Package metrics exposes Prometheus collectors for evaluation runs, conflict
// resolutions and the rule-set cache.
//
// Metrics (prefixed with the configured namespace):
//   - evaluations_total{status}: finished runs by terminal status
//   - evaluation_duration_seconds: run duration, including persistence
//   - rule_hits_total: hits produced by completed runs
//   - rule_conflicts_total: conflicts produced by completed runs
//   - conflict_resolutions_total{resolution}: applied conflict resolutions
//   - ruleset_cache_requests_total{result}: rule-set cache lookups
//   - log_errors_total, log_warnings_total: records seen by the logger
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/requirements/internal/logger"
	"github.com/liamcoop/requirements/rules"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "requirements"

// Collector owns the registry and the domain collectors.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	hitsTotal          prometheus.Counter
	conflictsTotal     prometheus.Counter
	resolutionsTotal   *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
}

// NewCollector creates and registers the collectors. A nil registry gets a fresh one
// with the Go runtime and process collectors.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of finished evaluation runs",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of evaluation runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to 8s
			},
		),
		hitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_hits_total",
				Help:      "Total number of rule hits in completed runs",
			},
		),
		conflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_conflicts_total",
				Help:      "Total number of rule conflicts detected in completed runs",
			},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_resolutions_total",
				Help:      "Total number of applied conflict resolutions",
			},
			[]string{"resolution"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ruleset_cache_requests_total",
				Help:      "Total number of rule-set cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.evaluationsTotal,
		c.evaluationDuration,
		c.hitsTotal,
		c.conflictsTotal,
		c.resolutionsTotal,
		c.cacheRequests,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Total number of error records logged, before sampling",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Total number of warning records logged, before sampling",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
	)
	return c
}

// RecordEvaluation records a finished run. Hits and conflicts count only for
// completed runs.
func (c *Collector) RecordEvaluation(status rules.EvaluationStatus, duration time.Duration, hits, conflicts int) {
	c.evaluationsTotal.WithLabelValues(string(status)).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
	if status == rules.EvaluationCompleted {
		c.hitsTotal.Add(float64(hits))
		c.conflictsTotal.Add(float64(conflicts))
	}
}

// RecordResolution records an applied conflict resolution.
func (c *Collector) RecordResolution(resolution string) {
	c.resolutionsTotal.WithLabelValues(resolution).Inc()
}

// RecordCacheRequest records a rule-set cache lookup.
func (c *Collector) RecordCacheRequest(result string) {
	c.cacheRequests.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

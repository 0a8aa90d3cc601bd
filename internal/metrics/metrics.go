// Package metrics holds the Prometheus collectors of the rule engine and
// its HTTP server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/assetrules/internal/logger"
)

// Registry holds all metrics for the application
type Registry struct {
	// Engine metrics
	RuleExecutionsTotal   *prometheus.CounterVec
	RuleExecutionDuration *prometheus.HistogramVec
	EnforcementViolations prometheus.Counter
	RulesLoaded           *prometheus.GaugeVec
	RunDuration           prometheus.Histogram
	CablesUpsizedTotal    prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every collector registered, including
// the Go runtime collectors and the logger's counters.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	factory := promauto.With(reg)

	r.RuleExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetrules_rule_executions_total",
			Help: "Rule executions by action type and outcome",
		},
		[]string{"action_type", "outcome"},
	)
	r.RuleExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetrules_rule_execution_duration_seconds",
			Help:    "Duration of a single rule execution",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"action_type"},
	)
	r.EnforcementViolations = factory.NewCounter(prometheus.CounterOpts{
		Name: "assetrules_enforcement_violations_total",
		Help: "Enforced rules overridden without an explicit override link",
	})
	r.RulesLoaded = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetrules_rules_loaded",
			Help: "Rules loaded and active after resolution for the last resolved project",
		},
		[]string{"stage"},
	)
	r.RunDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "assetrules_run_duration_seconds",
		Help:    "Duration of a full project run",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
	r.CablesUpsizedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "assetrules_cables_upsized_total",
		Help: "Cables upsized beyond the ampacity selection to meet the voltage drop limit",
	})

	r.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetrules_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	r.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetrules_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "assetrules_log_errors_total",
		Help: "Error log events, counted before sampling",
	}, func() float64 { return float64(logger.TotalErrors.Load()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "assetrules_log_warnings_total",
		Help: "Warning log events, counted before sampling",
	}, func() float64 { return float64(logger.TotalWarnings.Load()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "assetrules_condition_errors_total",
		Help: "Conditions that could not be evaluated and were treated as non-matching",
	}, func() float64 { return float64(logger.ConditionErrors.Load()) })

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordExecution counts one rule execution.
func (r *Registry) RecordExecution(actionType, outcome string, duration time.Duration) {
	r.RuleExecutionsTotal.WithLabelValues(actionType, outcome).Inc()
	r.RuleExecutionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordResolution records the size of a resolved rule set.
func (r *Registry) RecordResolution(loaded, active, violations int) {
	r.RulesLoaded.WithLabelValues("loaded").Set(float64(loaded))
	r.RulesLoaded.WithLabelValues("active").Set(float64(active))
	r.EnforcementViolations.Add(float64(violations))
}

// RecordHTTPRequest records an HTTP request
func (r *Registry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

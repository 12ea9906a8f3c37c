// Package metrics exposes Prometheus metrics for authorization decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check kinds, used as the "check" label.
const (
	CheckPreAuthorize  = "pre_authorize"
	CheckPreFilter     = "pre_filter"
	CheckPostAuthorize = "post_authorize"
	CheckPostFilter    = "post_filter"
	CheckRequest       = "request"
)

// Decision outcomes, used as the "outcome" label.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
	OutcomeFault = "fault"
)

// Metrics collects decision metrics on a private registry.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	decisionSeconds *prometheus.HistogramVec
	filterKept      prometheus.Counter
	filterRemoved   prometheus.Counter
	reloadsTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the decision metrics under the given namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by check kind and outcome",
		},
		[]string{"check", "outcome"},
	)
	decisionSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Expression evaluation latency by check kind",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 4, 10),
		},
		[]string{"check"},
	)
	filterKept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filter",
		Name:      "elements_kept_total",
		Help:      "Container elements kept by filtering",
	})
	filterRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filter",
		Name:      "elements_removed_total",
		Help:      "Container elements removed by filtering",
	})
	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_reloads_total",
			Help:      "Attachment reloads by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(decisionsTotal, decisionSeconds, filterKept, filterRemoved, reloadsTotal)

	return &Metrics{
		decisionsTotal:  decisionsTotal,
		decisionSeconds: decisionSeconds,
		filterKept:      filterKept,
		filterRemoved:   filterRemoved,
		reloadsTotal:    reloadsTotal,
		registry:        registry,
	}
}

// ObserveDecision records one check outcome and its latency.
func (m *Metrics) ObserveDecision(check, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(check, outcome).Inc()
	m.decisionSeconds.WithLabelValues(check).Observe(elapsed.Seconds())
}

// ObserveFilter records the element counts of one filtering pass.
func (m *Metrics) ObserveFilter(kept, removed int) {
	if m == nil {
		return
	}
	m.filterKept.Add(float64(kept))
	m.filterRemoved.Add(float64(removed))
}

// ObserveReload records the result of one attachment reload.
func (m *Metrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

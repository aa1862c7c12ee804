// Package metrics exposes Prometheus counters for strategy outcomes,
// revalidations and background triggers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

const namespace = "astra_edge"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	Revalidations *prometheus.CounterVec
	Triggers      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by strategy and response source",
		}, []string{"strategy", "source"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "Requests that produced no response, by strategy and reason",
		}, []string{"strategy", "reason"}),
		Revalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revalidations_total",
			Help:      "Background stale-while-revalidate refreshes, by outcome",
		}, []string{"outcome"}),
		Triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_triggers_total",
			Help:      "Background sync triggers, by trigger, tag and outcome",
		}, []string{"trigger", "tag", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResult implements engine.Observer.
func (m *Metrics) ObserveResult(kind strategy.Kind, source engine.Source) {
	m.Requests.WithLabelValues(string(kind), string(source)).Inc()
}

// ObserveFailure implements engine.Observer.
func (m *Metrics) ObserveFailure(kind strategy.Kind, reason string) {
	m.Failures.WithLabelValues(string(kind), reason).Inc()
}

// ObserveRevalidation implements engine.Observer.
func (m *Metrics) ObserveRevalidation(stored bool, err error) {
	outcome := "skipped"
	switch {
	case err != nil:
		outcome = "failed"
	case stored:
		outcome = "stored"
	}
	m.Revalidations.WithLabelValues(outcome).Inc()
}

// ObserveTrigger implements background.Observer.
func (m *Metrics) ObserveTrigger(trigger, tag, outcome string) {
	m.Triggers.WithLabelValues(trigger, tag, outcome).Inc()
}

var _ engine.Observer = (*Metrics)(nil)

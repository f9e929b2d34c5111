// Package metrics provides Prometheus metrics for the duetology service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Vote outcomes used as the "outcome" label.
const (
	OutcomeCounted      = "counted"
	OutcomeAlreadyVoted = "already_voted"
	OutcomeNotFound     = "not_found"
	OutcomeStoreError   = "store_error"
)

// Manager owns the service metrics and the registry they are exposed from.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	submissions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	votes       *prometheus.CounterVec
	snapshots   *prometheus.CounterVec
	sseClients  prometheus.Gauge
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// NewManager creates a Manager on its own registry, so the default Go
// collectors are not exported.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "duetology",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "submissions_total",
		Help:      "Records accepted per collection",
	}, []string{"collection"})
	m.rejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "submissions_rejected_total",
		Help:      "Records rejected by validation per collection",
	}, []string{"collection"})
	m.votes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "votes_total",
		Help:      "Vote attempts per collection and outcome",
	}, []string{"collection", "outcome"})
	m.snapshots = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "snapshots_published_total",
		Help:      "Snapshots pushed to realtime subscribers",
	}, []string{"collection"})
	m.sseClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "sse_clients",
		Help:      "Currently connected event stream clients",
	})
	return m
}

// Submitted counts an accepted record.
func (m *Manager) Submitted(collection string) {
	m.submissions.WithLabelValues(collection).Inc()
}

// Rejected counts a record that failed validation.
func (m *Manager) Rejected(collection string) {
	m.rejected.WithLabelValues(collection).Inc()
}

// Voted counts a vote attempt by outcome.
func (m *Manager) Voted(collection, outcome string) {
	m.votes.WithLabelValues(collection, outcome).Inc()
}

// SnapshotPublished counts a snapshot broadcast.
func (m *Manager) SnapshotPublished(collection string) {
	m.snapshots.WithLabelValues(collection).Inc()
}

// SetSSEClients records the number of connected stream clients.
func (m *Manager) SetSSEClients(n int) {
	m.sseClients.Set(float64(n))
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package hmr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// MetricsConfig configures the Prometheus collectors of an Engine.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hmr").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures MetricsConfig.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the broadcaster's collectors. A nil *Metrics records nothing.
type Metrics struct {
	broadcasts *prometheus.CounterVec
	delivered  prometheus.Counter
	evictions  prometheus.Counter
	clients    prometheus.Gauge
	nodes      prometheus.Gauge
}

// NewMetrics registers the broadcaster's collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "hmr",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of broadcasts by message type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_queued_total",
			Help:        "Total number of messages queued to clients",
			ConstLabels: config.ConstLabels,
		}),

		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "evictions_total",
			Help:        "Total number of clients evicted during broadcast",
			ConstLabels: config.ConstLabels,
		}),

		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_clients",
			Help:        "Number of connected hot reload clients",
			ConstLabels: config.ConstLabels,
		}),

		nodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "graph_nodes",
			Help:        "Number of modules in the dependency graph",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordBroadcast(t protocol.MessageType, queued, evicted int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(string(t)).Inc()
	m.delivered.Add(float64(queued))
	m.evictions.Add(float64(evicted))
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) setNodes(n int) {
	if m == nil {
		return
	}
	m.nodes.Set(float64(n))
}

package hncp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on an isolated registry,
// so an embedding process can run more than one Engine without collector
// name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	NodeCollisionsTotal prometheus.Counter
	NodesReachable      prometheus.Gauge
	NodesReaped         prometheus.Counter

	MessagesSentTotal    *prometheus.CounterVec
	MessagesRecvTotal    *prometheus.CounterVec
	MessagesDroppedTotal *prometheus.CounterVec
	TransportErrorsTotal *prometheus.CounterVec

	NetworkHashChangesTotal prometheus.Counter
	TrickleIntervalSeconds  *prometheus.HistogramVec

	DaemonRequestsTotal          *prometheus.CounterVec
	DaemonRequestDurationSeconds *prometheus.HistogramVec

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with all collectors registered on a
// fresh registry. version and goVersion are recorded as labels on the
// hncpd_info gauge.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		NodeCollisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hncpd_node_collisions_total",
			Help: "Total number of node identifier collisions detected.",
		}),
		NodesReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hncpd_nodes_reachable",
			Help: "Current number of nodes considered reachable from own_node.",
		}),
		NodesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hncpd_nodes_reaped_total",
			Help: "Total number of node records removed after the unreachable grace period.",
		}),

		MessagesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hncpd_messages_sent_total",
			Help: "Total messages sent, by message kind and endpoint.",
		}, []string{"kind", "endpoint"}),
		MessagesRecvTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hncpd_messages_received_total",
			Help: "Total messages received, by message kind and endpoint.",
		}, []string{"kind", "endpoint"}),
		MessagesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hncpd_messages_dropped_total",
			Help: "Total received messages dropped, by reason.",
		}, []string{"reason"}),
		TransportErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hncpd_transport_errors_total",
			Help: "Total send errors reported by the transport port, by endpoint.",
		}, []string{"endpoint"}),

		NetworkHashChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hncpd_network_hash_changes_total",
			Help: "Total number of observed network_hash changes.",
		}),
		TrickleIntervalSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hncpd_trickle_interval_seconds",
			Help:    "Trickle interval length at the moment it doubled, by endpoint.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"endpoint"}),

		DaemonRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hncpd_daemon_requests_total",
			Help: "Total local control API requests, by method, path and status.",
		}, []string{"method", "path", "status"}),
		DaemonRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hncpd_daemon_request_duration_seconds",
			Help:    "Local control API request latency, by method, path and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hncpd_info",
			Help: "Build information for the running hncpd instance.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.NodeCollisionsTotal,
		m.NodesReachable,
		m.NodesReaped,
		m.MessagesSentTotal,
		m.MessagesRecvTotal,
		m.MessagesDroppedTotal,
		m.TransportErrorsTotal,
		m.NetworkHashChangesTotal,
		m.TrickleIntervalSeconds,
		m.DaemonRequestsTotal,
		m.DaemonRequestDurationSeconds,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}

// Handler returns an http.Handler serving the engine's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Package metrics provides Prometheus instrumentation for the NBD server.
//
// All collector methods are safe on a nil receiver, so callers can pass nil
// when metrics are disabled and pay no overhead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NBDMetrics holds the server-side collectors.
type NBDMetrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter

	serverBytesIn  *prometheus.CounterVec
	serverBytesOut *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec

	storeBytesIn  *prometheus.GaugeVec
	storeBytesOut *prometheus.GaugeVec
	cacheBytes    *prometheus.GaugeVec
	cacheLimit    *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *NBDMetrics {
	reg := prometheus.NewRegistry()

	return &NBDMetrics{
		registry: reg,
		connectionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "swiftnbd_connections_active",
			Help: "Number of currently connected NBD clients",
		}),
		connectionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "swiftnbd_connections_total",
			Help: "Total number of accepted NBD connections",
		}),
		serverBytesIn: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "swiftnbd_server_bytes_in_total",
			Help: "Bytes received from NBD clients (writes) by export",
		}, []string{"export"}),
		serverBytesOut: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "swiftnbd_server_bytes_out_total",
			Help: "Bytes sent to NBD clients (reads) by export",
		}, []string{"export"}),
		requestErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "swiftnbd_request_errors_total",
			Help: "NBD requests answered with a nonzero error by export",
		}, []string{"export"}),
		storeBytesIn: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "swiftnbd_store_read_bytes",
			Help: "Bytes fetched from the object store by export",
		}, []string{"export"}),
		storeBytesOut: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "swiftnbd_store_written_bytes",
			Help: "Bytes stored to the object store by export",
		}, []string{"export"}),
		cacheBytes: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "swiftnbd_cache_bytes",
			Help: "Resident object cache size in bytes by export",
		}, []string{"export"}),
		cacheLimit: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "swiftnbd_cache_limit_bytes",
			Help: "Object cache size limit in bytes by export",
		}, []string{"export"}),
	}
}

// Registry returns the underlying registry for the HTTP handler.
func (m *NBDMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ConnectionAccepted records a new client connection.
func (m *NBDMetrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a client disconnect.
func (m *NBDMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// AddServerBytesIn counts payload bytes received for an export.
func (m *NBDMetrics) AddServerBytesIn(export string, n int) {
	if m == nil {
		return
	}
	m.serverBytesIn.WithLabelValues(export).Add(float64(n))
}

// AddServerBytesOut counts payload bytes sent for an export.
func (m *NBDMetrics) AddServerBytesOut(export string, n int) {
	if m == nil {
		return
	}
	m.serverBytesOut.WithLabelValues(export).Add(float64(n))
}

// RequestError counts a request answered with a nonzero NBD error.
func (m *NBDMetrics) RequestError(export string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(export).Inc()
}

// SetStoreBytes publishes the storage layer's running byte counters.
func (m *NBDMetrics) SetStoreBytes(export string, in, out uint64) {
	if m == nil {
		return
	}
	m.storeBytesIn.WithLabelValues(export).Set(float64(in))
	m.storeBytesOut.WithLabelValues(export).Set(float64(out))
}

// SetCacheUsage publishes the cache's resident size and limit.
func (m *NBDMetrics) SetCacheUsage(export string, size, limit int64) {
	if m == nil {
		return
	}
	m.cacheBytes.WithLabelValues(export).Set(float64(size))
	m.cacheLimit.WithLabelValues(export).Set(float64(limit))
}

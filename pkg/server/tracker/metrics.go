package tracker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a custom prometheus.Collector tracking live sessions and
// ingest counters, backed by a mutex-guarded map rather than individually
// registered collectors.
type Metrics struct {
	mu            sync.Mutex
	activeByPeer  map[string]struct{}
	pointsTotal   uint64
	authFailTotal uint64

	activeDesc *prometheus.Desc
	pointsDesc *prometheus.Desc
	authDesc   *prometheus.Desc
}

// NewMetrics returns a ready-to-register Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		activeByPeer: make(map[string]struct{}),
		activeDesc: prometheus.NewDesc(
			"triptracker_active_sessions", "Number of sessions with a live connection.", nil, nil),
		pointsDesc: prometheus.NewDesc(
			"triptracker_points_ingested_total", "Total track points ingested.", nil, nil),
		authDesc: prometheus.NewDesc(
			"triptracker_auth_failures_total", "Total handshake authentication failures.", nil, nil),
	}
}

func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	descs <- m.activeDesc
	descs <- m.pointsDesc
	descs <- m.authDesc
}

func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics <- prometheus.MustNewConstMetric(m.activeDesc, prometheus.GaugeValue, float64(len(m.activeByPeer)))
	metrics <- prometheus.MustNewConstMetric(m.pointsDesc, prometheus.CounterValue, float64(m.pointsTotal))
	metrics <- prometheus.MustNewConstMetric(m.authDesc, prometheus.CounterValue, float64(m.authFailTotal))
}

// SessionConnected records peer as holding a live connection.
func (m *Metrics) SessionConnected(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeByPeer[peer] = struct{}{}
}

// SessionDisconnected removes peer's live-connection marker.
func (m *Metrics) SessionDisconnected(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeByPeer, peer)
}

// PointsIngested adds n to the running total.
func (m *Metrics) PointsIngested(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointsTotal += uint64(n)
}

// AuthFailed increments the authentication-failure counter.
func (m *Metrics) AuthFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailTotal++
}

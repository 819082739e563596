// Package metrics exposes the daemon's operational counters as Prometheus
// collectors, registered on a loopback-only /internal/metrics endpoint. This
// mirrors the teacher's own ambient metrics packages (proxy/lib/metrics.go,
// broker/metrics.go): one struct of typed collectors and a constructor that
// wires them up; callers on the hot path update the exported collectors
// directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jstorrentd"

// Metrics holds every Prometheus collector the daemon reports.
type Metrics struct {
	SessionsOpened    prometheus.Counter
	SessionsClosed    prometheus.Counter
	AuthFailures      prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	SlowSends         prometheus.Counter
	AdmissionWaiting  prometheus.Gauge
	AdmissionPending  prometheus.Gauge
	ConnectsCompleted *prometheus.CounterVec
	TCPStreamsActive  prometheus.Gauge
	UDPSocketsActive  prometheus.Gauge
	ListenersActive   prometheus.Gauge
	FileReads         *prometheus.CounterVec
	FileWrites        *prometheus.CounterVec
	FileBytesRead     prometheus.Counter
	FileBytesWritten  prometheus.Counter

	registry *prometheus.Registry
}

// New constructs a Metrics with its own private registry, so the daemon
// never pollutes prometheus.DefaultRegisterer (there is exactly one daemon
// instance per process, but tests construct many).
func New() *Metrics {
	m := &Metrics{
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_opened_total",
			Help: "WebSocket sessions accepted, across /io and /control.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_closed_total",
			Help: "WebSocket sessions that have finished cleanup.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "AUTH frames whose triple did not match the stored pairing record.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Frames dropped because a bounded queue was full.",
		}, []string{"queue"}),
		SlowSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_sends_total",
			Help: "Outbound WebSocket writes that exceeded the slow-send threshold.",
		}),
		AdmissionWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "admission_waiting",
			Help: "Connect tasks currently waiting for a ConnectAdmission permit.",
		}),
		AdmissionPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "admission_pending",
			Help: "Total pending-connect tasks (admitted + waiting).",
		}),
		ConnectsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connects_completed_total",
			Help: "TCP_CONNECT attempts, by outcome.",
		}, []string{"outcome"}),
		TCPStreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tcp_streams_active",
			Help: "Activated TCP streams across all sessions.",
		}),
		UDPSocketsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "udp_sockets_active",
			Help: "Bound UDP sockets across all sessions.",
		}),
		ListenersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tcp_listeners_active",
			Help: "Open TCP listeners across all sessions.",
		}),
		FileReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_reads_total",
			Help: "FileRangeEndpoint reads, by status code.",
		}, []string{"status"}),
		FileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_writes_total",
			Help: "FileRangeEndpoint writes, by status code.",
		}, []string{"status"}),
		FileBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_bytes_read_total",
			Help: "Bytes served by FileRangeEndpoint reads.",
		}),
		FileBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_bytes_written_total",
			Help: "Bytes accepted by FileRangeEndpoint writes.",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.SessionsOpened, m.SessionsClosed, m.AuthFailures, m.FramesDropped,
		m.SlowSends, m.AdmissionWaiting, m.AdmissionPending, m.ConnectsCompleted,
		m.TCPStreamsActive, m.UDPSocketsActive, m.ListenersActive,
		m.FileReads, m.FileWrites, m.FileBytesRead, m.FileBytesWritten,
	)
	return m
}

// Handler returns the HTTP handler to mount at /internal/metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package ipc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts channel and server activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRejected prometheus.Counter
	activeConnections   prometheus.Gauge
	handlerFailures     prometheus.Counter
	framesSent          prometheus.Counter
	framesReceived      prometheus.Counter
	bytesSent           prometheus.Counter
	bytesReceived       prometheus.Counter
	dataErrors          prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and dispatched to a handler.",
		}),
		connectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "connections_rejected_total",
			Help:      "Connections closed because peer identity verification failed.",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeguard",
			Name:      "connections_active",
			Help:      "Connections whose handler is still running.",
		}),
		handlerFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "handler_failures_total",
			Help:      "Handlers that returned an error or panicked.",
		}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "frames_sent_total",
			Help:      "Frames written to a transport.",
		}),
		framesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "frames_received_total",
			Help:      "Frames read from a transport.",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "sent_bytes_total",
			Help:      "Frame payload bytes written, after encryption.",
		}),
		bytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "received_bytes_total",
			Help:      "Frame payload bytes read, before decryption.",
		}),
		dataErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeguard",
			Name:      "data_errors_total",
			Help:      "Frames rejected as malformed, oversized or unauthenticated.",
		}),
	}
}

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) finished(failed bool) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	if failed {
		m.handlerFailures.Inc()
	}
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) dataError() {
	if m == nil {
		return
	}
	m.dataErrors.Inc()
}

// Package prom exports sptps session metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/floegence/sptps-go/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports session metrics to Prometheus.
type SessionObserver struct {
	handshakeTotal    *prometheus.CounterVec
	handshakeLatency  prometheus.Histogram
	rekeyTotal        prometheus.Counter
	rekeyLatency      prometheus.Histogram
	recordsSent       *prometheus.CounterVec
	recordsReceived   *prometheus.CounterVec
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	sessionsClosed    prometheus.Counter
}

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_handshake_total",
			Help: "Handshake attempts by result.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sptps_handshake_latency_seconds",
			Help:    "Time from first KEX sent to handshake completion.",
			Buckets: prometheus.DefBuckets,
		}),
		rekeyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sptps_rekey_total",
			Help: "Completed secondary key exchanges.",
		}),
		rekeyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sptps_rekey_latency_seconds",
			Help:    "Time from a forced or peer-initiated rekey to completion.",
			Buckets: prometheus.DefBuckets,
		}),
		recordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_records_sent_total",
			Help: "Application records sent, by record type.",
		}, []string{"type"}),
		recordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_records_received_total",
			Help: "Inbound records processed, by result.",
		}, []string{"result"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sptps_bytes_sent_total",
			Help: "Plaintext payload bytes sent.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sptps_bytes_received_total",
			Help: "Plaintext payload bytes successfully received.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sptps_sessions_closed_total",
			Help: "Sessions torn down via Stop.",
		}),
	}
	reg.MustRegister(
		o.handshakeTotal,
		o.handshakeLatency,
		o.rekeyTotal,
		o.rekeyLatency,
		o.recordsSent,
		o.recordsReceived,
		o.bytesSent,
		o.bytesReceived,
		o.sessionsClosed,
	)
	return o
}

func (o *SessionObserver) HandshakeStart(bool) {}

func (o *SessionObserver) HandshakeComplete(d time.Duration, suite uint8) {
	o.handshakeTotal.WithLabelValues(string(observability.HandshakeResultOK)).Inc()
	o.handshakeLatency.Observe(d.Seconds())
}

func (o *SessionObserver) HandshakeFailed(result observability.HandshakeResult) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
}

func (o *SessionObserver) RekeyStart() {}

func (o *SessionObserver) RekeyComplete(d time.Duration) {
	o.rekeyTotal.Inc()
	o.rekeyLatency.Observe(d.Seconds())
}

func (o *SessionObserver) RecordSent(typ uint8, n int) {
	o.recordsSent.WithLabelValues(recordTypeLabel(typ)).Inc()
	o.bytesSent.Add(float64(n))
}

func (o *SessionObserver) RecordReceived(typ uint8, n int, result observability.RecordResult) {
	o.recordsReceived.WithLabelValues(string(result)).Inc()
	if result == observability.RecordResultOK {
		o.bytesReceived.Add(float64(n))
	}
}

func (o *SessionObserver) SessionClosed() {
	o.sessionsClosed.Inc()
}

func recordTypeLabel(typ uint8) string {
	const hexdigits = "0123456789abcdef"
	return string([]byte{'0', 'x', hexdigits[typ>>4], hexdigits[typ&0xf]})
}

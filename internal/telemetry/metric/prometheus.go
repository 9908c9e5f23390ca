package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Listener label values.
const (
	ListenerPlain = "plain"
	ListenerTLS   = "tls"
)

// Reload result label values.
const (
	ReloadOK    = "ok"
	ReloadError = "error"
)

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	registry  *prometheus.Registry
	namespace string

	connsAccepted     *prometheus.CounterVec
	connsActive       prometheus.Gauge
	connTimeouts      prometheus.Counter
	handshakeFailures prometheus.Counter
	parseFailures     *prometheus.CounterVec
	requests          *prometheus.CounterVec
	bytesSent         prometheus.Counter
	requestDuration   prometheus.Histogram
	identityReloads   *prometheus.CounterVec
}

// NewRegistry creates a registry with every metric registered under
// namespace, plus the Go runtime and process collectors.
func NewRegistry(namespace string) *Registry {
	r := &Registry{
		registry:  prometheus.NewRegistry(),
		namespace: namespace,

		connsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted, by listener.",
		}, []string{"listener"}),

		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),

		connTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_timeouts_total",
			Help:      "Connections abandoned after the per-connection timeout.",
		}),

		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_handshake_failures_total",
			Help:      "TLS handshakes that failed or timed out.",
		}),

		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_parse_failures_total",
			Help:      "Request heads rejected by the parser, by reason.",
		}, []string{"reason"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by status code.",
		}, []string{"code"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_body_bytes_total",
			Help:      "Response body bytes written.",
		}),

		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from parsed request head to flushed response.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		identityReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_reloads_total",
			Help:      "TLS identity reloads, by result.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		r.connsAccepted,
		r.connsActive,
		r.connTimeouts,
		r.handshakeFailures,
		r.parseFailures,
		r.requests,
		r.bytesSent,
		r.requestDuration,
		r.identityReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// ConnAccepted counts an accepted connection and marks it active.
// Pair every call with ConnClosed.
func (r *Registry) ConnAccepted(listener string) {
	if r == nil {
		return
	}
	r.connsAccepted.WithLabelValues(listener).Inc()
	r.connsActive.Inc()
}

// ConnClosed marks a connection as no longer active.
func (r *Registry) ConnClosed() {
	if r == nil {
		return
	}
	r.connsActive.Dec()
}

// ConnTimedOut counts a connection abandoned by its timeout.
func (r *Registry) ConnTimedOut() {
	if r == nil {
		return
	}
	r.connTimeouts.Inc()
}

// HandshakeFailed counts a failed TLS handshake.
func (r *Registry) HandshakeFailed() {
	if r == nil {
		return
	}
	r.handshakeFailures.Inc()
}

// ParseFailed counts a rejected request head.
func (r *Registry) ParseFailed(reason string) {
	if r == nil {
		return
	}
	r.parseFailures.WithLabelValues(reason).Inc()
}

// RequestServed records an answered request.
func (r *Registry) RequestServed(code int, bodyBytes int64, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(statusLabel(code)).Inc()
	r.bytesSent.Add(float64(bodyBytes))
	r.requestDuration.Observe(elapsed.Seconds())
}

// IdentityReloaded records the outcome of a TLS identity reload.
func (r *Registry) IdentityReloaded(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.identityReloads.WithLabelValues(ReloadError).Inc()
		return
	}
	r.identityReloads.WithLabelValues(ReloadOK).Inc()
}

// RegisterIdentities exposes src's identities at scrape time.
func (r *Registry) RegisterIdentities(src IdentitySource) error {
	if r == nil {
		return nil
	}
	return r.registry.Register(NewIdentityCollector(r.namespace, src))
}

// Gatherer returns the underlying registry for tests and custom exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func statusLabel(code int) string {
	switch code {
	case 200:
		return "200"
	case 404:
		return "404"
	default:
		return "other"
	}
}

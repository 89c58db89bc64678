package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omochice/toy-messenger/internal/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// states lists every value the state gauge can take.
var states = []string{"disconnected", "connecting", "authenticating", "authenticated", "lost"}

// TransportObserver exports transport metrics to Prometheus.
type TransportObserver struct {
	stateGauge       *prometheus.GaugeVec
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	requestTotal     *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	pendingGauge     prometheus.Gauge
	inboundTotal     *prometheus.CounterVec
	lostTotal        prometheus.Counter
}

// NewTransportObserver registers transport metrics on the registry.
func NewTransportObserver(reg *prometheus.Registry) *TransportObserver {
	o := &TransportObserver{
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "messenger_transport_state",
			Help: "Current connection state (1 for the active state).",
		}, []string{"state"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_handshake_total",
			Help: "Authentication handshakes by reason.",
		}, []string{"reason"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "messenger_handshake_latency_seconds",
			Help:    "Authentication handshake latency.",
			Buckets: prometheus.DefBuckets,
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_requests_total",
			Help: "Request round trips by kind and result.",
		}, []string{"kind", "result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "messenger_request_latency_seconds",
			Help:    "Request round trip latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_pending_requests",
			Help: "Requests waiting for a server reply.",
		}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_inbound_envelopes_total",
			Help: "Envelopes received from the server by kind.",
		}, []string{"kind"}),
		lostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_connection_lost_total",
			Help: "Authenticated connections that were lost.",
		}),
	}
	reg.MustRegister(
		o.stateGauge,
		o.handshakeTotal,
		o.handshakeLatency,
		o.requestTotal,
		o.requestLatency,
		o.pendingGauge,
		o.inboundTotal,
		o.lostTotal,
	)
	return o
}

var _ observability.TransportObserver = (*TransportObserver)(nil)

func (o *TransportObserver) State(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		o.stateGauge.WithLabelValues(s).Set(v)
	}
}

func (o *TransportObserver) Handshake(reason string, d time.Duration) {
	o.handshakeTotal.WithLabelValues(reason).Inc()
	o.handshakeLatency.Observe(d.Seconds())
}

func (o *TransportObserver) Request(kind string, result observability.RequestResult, d time.Duration) {
	o.requestTotal.WithLabelValues(kind, string(result)).Inc()
	o.requestLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (o *TransportObserver) Pending(n int) {
	o.pendingGauge.Set(float64(n))
}

func (o *TransportObserver) Inbound(kind string) {
	o.inboundTotal.WithLabelValues(kind).Inc()
}

func (o *TransportObserver) ConnectionLost() {
	o.lostTotal.Inc()
}

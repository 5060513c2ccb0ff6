package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors shared by both gateway daemons.
// Each process builds its own registry; collectors irrelevant to a daemon
// simply stay at zero.
type Registry struct {
	reg *prometheus.Registry

	SessionsActive     prometheus.Gauge
	Handshakes         *prometheus.CounterVec
	Frames             *prometheus.CounterVec
	EventsForwarded    prometheus.Counter
	DownlinksDelivered prometheus.Counter
	Pushes             *prometheus.CounterVec
}

// NewRegistry creates an isolated set of collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "csod_gateway_sessions_active",
			Help: "Number of device sessions currently in the ACTIVE state",
		}),
		Handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csod_gateway_handshakes_total",
			Help: "Device handshake attempts by result",
		}, []string{"result"}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csod_gateway_frames_total",
			Help: "Inbound device frames by message class",
		}, []string{"class"}),
		EventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "csod_gateway_events_forwarded_total",
			Help: "Device events appended to the shared event stream",
		}),
		DownlinksDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "csod_gateway_downlinks_delivered_total",
			Help: "Downlink requests written to a device stream",
		}),
		Pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csod_gateway_pushes_total",
			Help: "HTTP push requests by outcome",
		}, []string{"outcome"}),
	}
}

// Handler exposes the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

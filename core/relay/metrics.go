package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	clientConnections  prometheus.Gauge
	activeRooms        prometheus.Gauge
	eventsDelivered    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	upstreamConnected  prometheus.Gauge
	upstreamMessages   *prometheus.CounterVec
	upstreamReconnects prometheus.Counter
)

type collectors struct {
	conns      prometheus.Gauge
	rooms      prometheus.Gauge
	delivered  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	connected  prometheus.Gauge
	messages   *prometheus.CounterVec
	reconnects prometheus.Counter
}

func newCollectors() collectors {
	return collectors{
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_client_connections",
			Help: "Number of connected downstream clients",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rooms",
			Help: "Number of rooms with at least one member",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_delivered_total",
			Help: "Events queued to downstream clients",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Events dropped because a client queue was full",
		}, []string{"event"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_upstream_connected",
			Help: "1 while the upstream link is established",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_messages_total",
			Help: "Upstream messages by direction and outcome",
		}, []string{"direction", "outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_reconnect_attempts_total",
			Help: "Failed upstream connection attempts",
		}),
	}
}

func (c collectors) install() {
	clientConnections = c.conns
	activeRooms = c.rooms
	eventsDelivered = c.delivered
	eventsDropped = c.dropped
	upstreamConnected = c.connected
	upstreamMessages = c.messages
	upstreamReconnects = c.reconnects
}

func init() {
	newCollectors().install()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers relay metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(clientConnections, activeRooms, eventsDelivered, eventsDropped,
		upstreamConnected, upstreamMessages, upstreamReconnects)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors().install()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// Package metrics exposes client-side counters for polling, sending and the
// realtime connection. Every method is safe on a nil *Metrics so components
// can be built without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fellowship"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	realtimeEvents *prometheus.CounterVec
	connected      prometheus.Gauge
	polls          *prometheus.CounterVec
	unread         *prometheus.GaugeVec
	sounds         prometheus.Counter
	sends          *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		realtimeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events dispatched to handlers, by event name.",
		}, []string{"event"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while the realtime transport is connected.",
		}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unread",
			Name:      "polls_total",
			Help:      "Unread summary polls, by poller and outcome.",
		}, []string{"poller", "outcome"}),
		unread: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unread",
			Name:      "total",
			Help:      "Last observed unread total, by poller.",
		}, []string{"poller"}),
		sounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unread",
			Name:      "sounds_total",
			Help:      "Notification sounds requested.",
		}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sends_total",
			Help:      "Messages sent, by final outcome.",
		}, []string{"outcome"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "refreshes_total",
			Help:      "Full history refetches, by trigger reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RealtimeEvent(event string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// Poll records one poll. total is ignored for failed polls.
func (m *Metrics) Poll(poller string, err error, total int) {
	if m == nil {
		return
	}
	if err != nil {
		m.polls.WithLabelValues(poller, "error").Inc()
		return
	}
	m.polls.WithLabelValues(poller, "ok").Inc()
	m.unread.WithLabelValues(poller).Set(float64(total))
}

func (m *Metrics) Sound() {
	if m == nil {
		return
	}
	m.sounds.Inc()
}

// Send records the outcome of a send: confirmed or failed.
func (m *Metrics) Send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Refresh(reason string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(reason).Inc()
}

// Package metrics exposes Prometheus instrumentation for the coordination
// layer: live sessions, online users, active calls and fan-out volume.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sessions tracks the current number of registered sessions.
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veche_sessions",
		Help: "Current number of live sessions",
	})

	// OnlineUsers tracks the number of distinct users with a live session.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veche_online_users",
		Help: "Current number of online users",
	})

	// PresenceTransitions counts 0->1 and 1->0 session count edges.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veche_presence_transitions_total",
		Help: "Presence transitions by direction",
	}, []string{"direction"}) // direction = "online", "offline"

	// ActiveCalls tracks calls in ringing or ongoing state.
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veche_active_calls",
		Help: "Current number of non-terminal calls",
	})

	// EventsSent counts events handed to session outboxes, by event type.
	EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veche_events_sent_total",
		Help: "Events delivered to session outboxes",
	}, []string{"event"})

	// EventsDropped counts events dropped because a session outbox was full
	// or the session was gone.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veche_events_dropped_total",
		Help: "Events dropped before reaching a session",
	}, []string{"reason"}) // reason = "full", "gone"

	// HandlerLatency records the time spent in one inbound event handler.
	HandlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veche_handler_latency_seconds",
		Help:    "Inbound event handling latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, 1},
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(
		Sessions,
		OnlineUsers,
		PresenceTransitions,
		ActiveCalls,
		EventsSent,
		EventsDropped,
		HandlerLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

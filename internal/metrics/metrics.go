// Package metrics provides Prometheus instrumentation for the polyglot chat
// server. It exposes gauges for connection and room counts, counters for
// message and translation throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "polyglot_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of conversation rooms with at least one
	// subscribed connection on this node.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "polyglot_active_rooms",
		Help: "Current number of conversation rooms with live subscribers",
	})

	// MessagesTotal counts message sends, labeled by result: "sent",
	// "failed" or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polyglot_messages_total",
		Help: "Total number of message sends processed",
	}, []string{"result"})

	// MessageLatency records end-to-end send latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "polyglot_message_send_seconds",
		Help:    "Message send latency in seconds (translate, persist, broadcast)",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// TranslationsTotal counts translation attempts by outcome.
	TranslationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polyglot_translations_total",
		Help: "Total number of translations, by outcome",
	}, []string{"outcome"}) // translated | same_language | undetected | degraded

	// ProviderLatency records translation provider round-trip time.
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polyglot_translation_provider_seconds",
		Help:    "Translation provider latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
	}, []string{"provider"})

	// ConversationConflicts counts get-or-create races resolved by discarding
	// a losing record.
	ConversationConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "polyglot_conversation_conflicts_total",
		Help: "Concurrent conversation creations resolved to an existing winner",
	})

	// BroadcastDeliveries counts per-connection deliveries of room events.
	BroadcastDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polyglot_broadcast_deliveries_total",
		Help: "Room event deliveries to individual connections",
	}, []string{"result"}) // ok | error
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		MessagesTotal,
		MessageLatency,
		TranslationsTotal,
		ProviderLatency,
		ConversationConflicts,
		BroadcastDeliveries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

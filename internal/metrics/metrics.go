// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and subscription counts, counters for
// message throughput, and histograms for publish latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts the total number of messages processed, labeled by
	// outcome: "sent", "rejected", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"}) // outcome = "sent", "rejected", "failed"

	// PublishLatency records time from a sendMessage frame to completed
	// local fan-out, in seconds.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_publish_latency_seconds",
		Help:    "Message publish latency in seconds (persist plus fan-out)",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RoomSubscriptions tracks the current number of room subscriptions
	// across all sessions.
	RoomSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_room_subscriptions",
		Help: "Current number of active room subscriptions",
	})

	// OnlineIdentities tracks the number of identities currently marked
	// online on this instance.
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_identities",
		Help: "Current number of identities with at least one connection",
	})

	// ReadReceiptsTotal counts processed read receipts.
	ReadReceiptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_read_receipts_total",
		Help: "Total number of read receipts applied",
	})

	// HistoryFetchesTotal counts history page requests.
	HistoryFetchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_history_fetches_total",
		Help: "Total number of history pages served",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		PublishLatency,
		RoomSubscriptions,
		OnlineIdentities,
		ReadReceiptsTotal,
		HistoryFetchesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

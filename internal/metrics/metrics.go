// Package metrics provides Prometheus instrumentation for the skill-exchange
// chat layer. It exposes gauges for connection and presence counts, counters
// for message and fanout throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skillswap_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users marked online.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skillswap_online_users",
		Help: "Current number of users marked online",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "sent", "delivered", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillswap_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// ReadReceiptsTotal counts messages-read broadcasts.
	ReadReceiptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skillswap_read_receipts_total",
		Help: "Total number of read-receipt broadcasts",
	})

	// TypingEventsTotal counts typing/stop-typing relays.
	TypingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillswap_typing_events_total",
		Help: "Total number of typing indicator relays",
	}, []string{"type"}) // type = "typing", "stop_typing"

	// SendLatency records send-message handling latency in seconds, from
	// dispatch to broadcast.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skillswap_send_latency_seconds",
		Help:    "send-message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MatchScoringDuration records the time to score and rank a full
	// candidate pool for one suggestion request.
	MatchScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skillswap_match_scoring_seconds",
		Help:    "Time to score and rank the candidate pool",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		ReadReceiptsTotal,
		TypingEventsTotal,
		SendLatency,
		MatchScoringDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

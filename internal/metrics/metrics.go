package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Joined WebSocket sessions on this instance.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_sessions_closed_total",
		Help:      "WebSocket sessions closed, by close code.",
	}, []string{"code"})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_rooms_active",
		Help:      "Rooms with at least one local subscriber.",
	})

	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_deliveries_total",
		Help:      "Frames handed to subscriber send buffers.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_drops_total",
		Help:      "Subscribers pruned because delivery failed.",
	})

	MessagesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_posted_total",
		Help:      "Post attempts by outcome (persisted, blocked, failed).",
	}, []string{"outcome"})

	ModerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_gate_failures_total",
		Help:      "Moderation calls that failed or timed out and were allowed.",
	})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Message events that could not be published.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

func ModerationFailed(error) {
	ModerationFailures.Inc()
}

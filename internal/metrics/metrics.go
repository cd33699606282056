// Package metrics exposes the Prometheus instrumentation shared by the
// gateway, router and workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "router", Name: "messages_created_total",
		Help: "Messages committed by the router.",
	})
	MessagesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "router", Name: "messages_deduplicated_total",
		Help: "Sends resolved to an already committed message by clientMsgId.",
	})
	OutboxTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "outbox", Name: "tasks_total",
		Help: "Outbox tasks by terminal status.",
	}, []string{"status"})
	OutboxRescans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "outbox", Name: "rescans_total",
		Help: "Pending rows re-published by the scanner.",
	})
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "webhook", Name: "deliveries_total",
		Help: "Bot webhook deliveries by outcome.",
	}, []string{"outcome"})
	ConnectedSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "im", Subsystem: "gateway", Name: "connected_sockets",
		Help: "Live websocket connections on this node.",
	})
	ZombiesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "gateway", Name: "zombies_evicted_total",
		Help: "Sessions evicted by the heartbeat sweeper.",
	})
	BusEventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "bus", Name: "events_delivered_total",
		Help: "Room events replayed into the local hub.",
	})
	SyncRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "im", Subsystem: "sync", Name: "requests_total",
		Help: "Channel catch-up requests served.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fan-out delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeRemote    = "remote"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Number of registered live connections.",
	})

	LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_subscriptions",
		Help: "Number of (room, connection) subscriptions currently indexed.",
	})

	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Messages durably appended to history, by kind.",
	}, []string{"kind"})

	AppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_append_failures_total",
		Help: "History appends that failed or timed out.",
	})

	FanoutDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_deliveries_total",
		Help: "Per-connection fan-out attempts, by outcome.",
	}, []string{"outcome"})

	HeldMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_held_messages_total",
		Help: "Messages held back because an earlier sequence of the room had not been fanned out yet.",
	})

	SkippedSequences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_skipped_sequences_total",
		Help: "Sequences given up on after the gap wait expired.",
	})

	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rejected_operations_total",
		Help: "Join/send/leave operations rejected, by event and error code.",
	}, []string{"event", "code"})
)

// Package telemetry exposes Prometheus metrics for the live gameplay core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizroom_connections_active",
		Help: "Number of live websocket connections.",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizroom_rooms_active",
		Help: "Number of rooms currently held in memory.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizroom_sessions_active",
		Help: "Number of running game sessions.",
	})

	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizroom_events_sent_total",
		Help: "Outbound events delivered, by event name.",
	}, []string{"event"})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizroom_send_failures_total",
		Help: "Outbound sends that failed on a broken or slow connection.",
	})

	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizroom_evictions_total",
		Help: "Connections force-closed by heartbeat or backpressure policy.",
	})

	AnswersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizroom_answers_scored_total",
		Help: "Answer submissions scored, by correctness.",
	}, []string{"correct"})
)

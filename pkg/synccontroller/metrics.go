package synccontroller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aurus_sync_sessions_started_total",
		Help: "Total number of sessions started locally, by role.",
	}, []string{"role"}) // creator, joiner

	sessionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aurus_sync_session_outcomes_total",
		Help: "Total number of session setup attempts, by outcome.",
	}, []string{"outcome"}) // connected, failed

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aurus_sync_active_sessions",
		Help: "Number of sessions currently Connected on this process (0 or 1).",
	})

	transportWinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aurus_sync_transport_wins_total",
		Help: "Which transport won the connection race, by transport.",
	}, []string{"transport"}) // lan, webrtc
)

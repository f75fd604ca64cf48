package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aurus_relay_connections_active",
		Help: "Number of currently connected signaling clients.",
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aurus_relay_rooms_active",
		Help: "Number of rooms with at least one connected client.",
	})

	messagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aurus_relay_messages_relayed_total",
		Help: "Total number of relay payloads forwarded, by outcome.",
	}, []string{"outcome"}) // delivered, no_peer

	joinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aurus_relay_joins_total",
		Help: "Total number of room join attempts, by outcome.",
	}, []string{"outcome"}) // accepted, room_full
)

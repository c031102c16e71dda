package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "WebSocket sessions accepted.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests dispatched, by method and outcome.",
	}, []string{"method", "outcome"})

	tradePlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_trade_placements_total",
		Help: "trades.place outcomes.",
	}, []string{"result"})

	emergencyStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_emergency_stops_total",
		Help: "Emergency stop activations.",
	})
)

package discord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_discord_requests",
	Help: "Number of discord REST requests, by operation and result",
}, []string{"op", "result"})

var gatewayEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_discord_gateway_events",
	Help: "Number of gateway events converted to security events",
}, []string{"kind"})

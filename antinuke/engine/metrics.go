package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_event_duration_sec",
	Help: "Total duration of security event processing",
}, []string{"kind"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_processed",
	Help: "Number of security events processed",
}, []string{"kind"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_errors",
	Help: "Number of security events which failed processing",
}, []string{"kind"})

var gateDeniedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gate_denied",
	Help: "Number of events filtered by the policy gate",
}, []string{"kind", "reason"})

var incidentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_incidents",
	Help: "Number of incident records emitted (after dedup)",
}, []string{"status"})

var incidentSuppressedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_incidents_suppressed",
	Help: "Number of incident records suppressed by the dedup cooldown",
})

var punishmentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishments",
	Help: "Number of punishment attempts, by action and result",
}, []string{"action", "result"})

var detectorTripCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_detector_trips",
	Help: "Number of sliding-window detector trips",
}, []string{"kind"})

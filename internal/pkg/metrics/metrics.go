package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every groundlink collector. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// CommandSendTotal counts every COMMAND_LONG/COMMAND_INT written to the link,
	// resends included.
	CommandSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundlink_command_send_total",
			Help: "Total number of command packets written to the link, including resends.",
		},
		[]string{"kind", "result"}, // result: ok/error (transport level)
	)

	// CommandResultTotal counts terminal outcomes.
	CommandResultTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundlink_command_result_total",
			Help: "Terminal command outcomes (done, rejected, exhausted).",
		},
		[]string{"kind", "outcome"},
	)

	// CommandAttempts observes how many sends a command needed before it terminated.
	CommandAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundlink_command_attempts",
			Help:    "Number of send attempts per terminated command.",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	// LinkPhase is 1 for the current connection phase and 0 for the others.
	LinkPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "groundlink_link_phase",
			Help: "Current connection phase of the flight controller link (1=active).",
		},
		[]string{"phase"},
	)

	// LivenessAge is the age of the last event of each kind, -1 if never seen.
	LivenessAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "groundlink_liveness_age_seconds",
			Help: "Seconds since the last telemetry event of each kind (-1 = never).",
		},
		[]string{"kind"},
	)

	// ParametersReceived is the size of the last completed parameter snapshot.
	ParametersReceived = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "groundlink_parameters_received",
			Help: "Number of parameters in the last completed parameter fetch.",
		},
	)

	// InboxDropped counts inbound frames dropped because the session inbox was full.
	InboxDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "groundlink_inbox_dropped_total",
			Help: "Inbound frames dropped because the session inbox was full.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CommandSendTotal,
		CommandResultTotal,
		CommandAttempts,
		LinkPhase,
		LivenessAge,
		ParametersReceived,
		InboxDropped,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

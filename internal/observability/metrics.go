package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK          = "ok"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeLost        = "connection_lost"
	OutcomeClosed      = "connection_closed"
	OutcomeRejected    = "rejected"
)

var (
	registerOnce sync.Once

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marionette",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Dispatched commands by outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marionette",
			Subsystem: "dispatch",
			Name:      "command_duration_seconds",
			Help:      "Time from send to matched response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marionette",
			Subsystem: "dispatch",
			Name:      "anomalies_total",
			Help:      "Frames dropped by the read loop.",
		},
		[]string{"kind"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marionette",
			Subsystem: "transport",
			Name:      "connection_events_total",
			Help:      "Connection lifecycle events.",
		},
		[]string{"event"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marionette",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marionette",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commands, commandDuration, anomalies, connections, httpRequests, httpDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// RecordCommand counts one dispatch. Unknown command names are recorded
// under CommandOther.
func RecordCommand(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	label := CommandLabel(command)
	commands.WithLabelValues(label, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeRemoteError {
		commandDuration.WithLabelValues(label).Observe(duration.Seconds())
	}
}

func RecordAnomaly(kind string) {
	RegisterMetrics()
	anomalies.WithLabelValues(kind).Inc()
}

func RecordConnection(event string) {
	RegisterMetrics()
	connections.WithLabelValues(event).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

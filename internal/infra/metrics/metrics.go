package metrics

import (
	"strconv"
	"time"

	"renewal_notifier/internal/app"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels:
	// - result: ok | scan_failed
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renewals",
			Subsystem: "reminders",
			Name:      "runs_total",
			Help:      "Renewal reminder invocations by result.",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "renewals",
			Subsystem: "reminders",
			Name:      "run_duration_seconds",
			Help:      "Duration of renewal reminder invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 50, 90},
		},
	)

	// Labels:
	// - outcome: sent | already_notified | skipped | failed | deferred
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renewals",
			Subsystem: "reminders",
			Name:      "items_total",
			Help:      "Per-subscription outcomes of renewal reminder invocations.",
		},
		[]string{"outcome"},
	)

	triggerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renewals",
			Subsystem: "http",
			Name:      "trigger_requests_total",
			Help:      "Trigger endpoint requests by method and status code.",
		},
		[]string{"method", "code"},
	)
)

// Recorder feeds the renewal service counters into Prometheus.
type Recorder struct{}

var _ app.Metrics = Recorder{}

func (Recorder) ObserveRun(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(duration.Seconds())
}

func (Recorder) ObserveItem(outcome app.ItemOutcome) {
	if outcome == "" {
		outcome = "unknown"
	}
	itemsTotal.WithLabelValues(string(outcome)).Inc()
}

// IncTriggerRequest counts a request to the trigger endpoint.
func IncTriggerRequest(method string, code int) {
	triggerRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workload metrics
	WorkloadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_workloads_total",
			Help: "Total number of workloads by state",
		},
		[]string{"state"},
	)

	// Executor metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_actions_total",
			Help: "Total number of executed actions by kind and result",
		},
		[]string{"action", "result"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"action"},
	)

	// Runtime metrics
	DaemonCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_daemon_calls_total",
			Help: "Total number of daemon calls by operation and result",
		},
		[]string{"op", "result"},
	)

	DaemonCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_daemon_call_duration_seconds",
			Help:    "Daemon call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Lock metrics
	LockRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_lock_rejections_total",
			Help: "Total number of rejected lock acquisitions by reason",
		},
		[]string{"reason"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconcileReissuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconcile_reissued_total",
			Help: "Total number of actions re-issued by the reconciler",
		},
		[]string{"action"},
	)

	ReconcileExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconcile_exhausted_total",
			Help: "Total number of workloads whose reconciliation retry budget ran out",
		},
	)

	// Log poller metrics
	LogPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_logpoll_duration_seconds",
			Help:    "Log poll cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LogLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_log_lines_total",
			Help: "Total number of runtime log lines by outcome",
		},
		[]string{"outcome"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queue_depth",
			Help: "Number of jobs waiting in the queue",
		},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_queue_jobs_total",
			Help: "Total number of processed jobs by kind and result",
		},
		[]string{"kind", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkloadsTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(DaemonCallsTotal)
	prometheus.MustRegister(DaemonCallDuration)
	prometheus.MustRegister(LockRejectionsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconcileReissuedTotal)
	prometheus.MustRegister(ReconcileExhaustedTotal)
	prometheus.MustRegister(LogPollDuration)
	prometheus.MustRegister(LogLinesTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueJobsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in the labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Package metrics provides Prometheus metrics for monitoring portal-autologin.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts control API requests by command and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_autologin_requests_total",
			Help: "Total number of control API requests processed",
		},
		[]string{"command", "status"},
	)

	// RequestDuration tracks control API request duration by command.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_autologin_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		},
		[]string{"command"},
	)

	// ProbesTotal counts connectivity probe rounds by scheme and result.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_autologin_probes_total",
			Help: "Total connectivity probe rounds by scheme and result",
		},
		[]string{"scheme", "result"},
	)

	// ProbeDuration tracks how long a probe round takes.
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_autologin_probe_duration_seconds",
			Help:    "Connectivity probe round duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"scheme"},
	)

	// ConsecutiveFailures shows the failure counter of each monitor.
	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_autologin_consecutive_failures",
			Help: "Consecutive connectivity failures seen by each monitor",
		},
		[]string{"scheme"},
	)

	// LoginRequests counts login requests by outcome.
	LoginRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_autologin_login_requests_total",
			Help: "Total login requests by outcome",
		},
		[]string{"outcome"},
	)

	// AttemptsFinished counts login attempts by terminal status.
	AttemptsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_autologin_attempts_finished_total",
			Help: "Total login attempts by terminal status",
		},
		[]string{"status"},
	)

	// ActiveAttempts shows the number of tracked login attempts.
	ActiveAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_autologin_active_attempts",
			Help: "Number of tracked login attempts",
		},
	)

	// StrategyResults counts submission strategy runs by strategy and result.
	StrategyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_autologin_strategy_results_total",
			Help: "Submission strategy results by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_autologin_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_autologin_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ProbesTotal,
		ProbeDuration,
		ConsecutiveFailures,
		LoginRequests,
		AttemptsFinished,
		ActiveAttempts,
		StrategyResults,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartRuntimeCollector periodically updates runtime gauges until stopCh is closed.
func StartRuntimeCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		case <-stopCh:
			return
		}
	}
}

// RecordRequest records metrics for a completed control API request.
func RecordRequest(command, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(command, status).Inc()
	RequestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordProbe records one probe round.
func RecordProbe(scheme string, up bool, duration time.Duration) {
	result := "down"
	if up {
		result = "up"
	}
	ProbesTotal.WithLabelValues(scheme, result).Inc()
	ProbeDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// SetConsecutiveFailures updates the failure gauge of a monitor.
func SetConsecutiveFailures(scheme string, n int) {
	ConsecutiveFailures.WithLabelValues(scheme).Set(float64(n))
}

// RecordLoginRequest records the outcome of a login request.
func RecordLoginRequest(outcome string) {
	LoginRequests.WithLabelValues(outcome).Inc()
}

// RecordAttemptFinished records a login attempt leaving the tracked set.
func RecordAttemptFinished(status string) {
	AttemptsFinished.WithLabelValues(status).Inc()
}

// UpdateAttemptMetrics updates the tracked attempt gauge.
func UpdateAttemptMetrics(count int) {
	ActiveAttempts.Set(float64(count))
}

// RecordStrategy records a submission strategy result.
func RecordStrategy(strategy string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	StrategyResults.WithLabelValues(strategy, result).Inc()
}

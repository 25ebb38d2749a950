package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for StackPilot.
type Metrics struct {
	config MetricsConfig

	// Install run metrics
	installsStarted   *prometheus.CounterVec
	installsCompleted *prometheus.CounterVec
	installDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepsSkipped  *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Control-plane call metrics
	apiCalls        *prometheus.CounterVec
	apiCallDuration *prometheus.HistogramVec
	apiRetries      *prometheus.CounterVec

	// Poll metrics
	pollChecks   *prometheus.CounterVec
	pollTimeouts *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		installsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_started_total",
				Help:      "Total number of install attempts started",
			},
			[]string{"resumed"},
		),
		installsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_completed_total",
				Help:      "Total number of install attempts completed",
			},
			[]string{"status"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of install attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of provisioning steps executed",
			},
			[]string{"step", "status"},
		),
		stepsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_skipped_total",
				Help:      "Total number of steps skipped on resume",
			},
			[]string{"step"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Total number of control-plane HTTP attempts",
			},
			[]string{"method", "outcome"},
		),
		apiCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of control-plane HTTP attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		apiRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Total number of retried control-plane attempts",
			},
			[]string{"reason"},
		),

		pollChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_checks_total",
				Help:      "Total number of readiness poll checks issued",
			},
			[]string{"kind"},
		),
		pollTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_timeouts_total",
				Help:      "Total number of polls that exhausted their check budget",
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors by classification",
			},
			[]string{"class"},
		),
	}

	collectors := []prometheus.Collector{
		m.installsStarted,
		m.installsCompleted,
		m.installDuration,
		m.stepsExecuted,
		m.stepsSkipped,
		m.stepDuration,
		m.apiCalls,
		m.apiCallDuration,
		m.apiRetries,
		m.pollChecks,
		m.pollTimeouts,
		m.errorsByClass,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry returns the underlying Prometheus registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordInstallStarted records the start of an install attempt.
func (m *Metrics) RecordInstallStarted(resumed bool) {
	if m.registry == nil {
		return
	}
	label := "false"
	if resumed {
		label = "true"
	}
	m.installsStarted.WithLabelValues(label).Inc()
}

// RecordInstallCompleted records a finished install attempt.
func (m *Metrics) RecordInstallCompleted(status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.installsCompleted.WithLabelValues(status).Inc()
	m.installDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStep records an executed step and its duration.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordStepSkipped records a step skipped on resume.
func (m *Metrics) RecordStepSkipped(step string) {
	if m.registry == nil {
		return
	}
	m.stepsSkipped.WithLabelValues(step).Inc()
}

// RecordAPICall records a single control-plane HTTP attempt.
func (m *Metrics) RecordAPICall(method, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.apiCalls.WithLabelValues(method, outcome).Inc()
	m.apiCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAPIRetry records a retried attempt and why it was retried.
func (m *Metrics) RecordAPIRetry(reason string) {
	if m.registry == nil {
		return
	}
	m.apiRetries.WithLabelValues(reason).Inc()
}

// RecordPollCheck records one readiness check for a poll kind.
func (m *Metrics) RecordPollCheck(kind string) {
	if m.registry == nil {
		return
	}
	m.pollChecks.WithLabelValues(kind).Inc()
}

// RecordPollTimeout records an exhausted poll budget.
func (m *Metrics) RecordPollTimeout(kind string) {
	if m.registry == nil {
		return
	}
	m.pollTimeouts.WithLabelValues(kind).Inc()
}

// RecordError records an error by classification.
func (m *Metrics) RecordError(class string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

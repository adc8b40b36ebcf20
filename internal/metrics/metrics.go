package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for reengage
type Metrics struct {
	// Campaign counters
	CampaignsCreatedTotal *prometheus.CounterVec
	CampaignsClosedTotal  *prometheus.CounterVec

	// Delivery counters
	JobsEnqueuedTotal            *prometheus.CounterVec
	NotificationsSentTotal       *prometheus.CounterVec
	NotificationsFailedTotal     *prometheus.CounterVec
	NotificationsSkippedTotal    *prometheus.CounterVec
	PersonalizationWarningsTotal *prometheus.CounterVec

	// Scheduler
	SchedulerRunsTotal          *prometheus.CounterVec
	SchedulerRunDurationSeconds prometheus.Histogram

	// Gauges
	ActiveCampaigns prometheus.Gauge
	QueueSize       prometheus.Gauge
	QueueActive     prometheus.Gauge
	QueueDeferred   prometheus.Gauge
	QueueDLQ        prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_campaigns_created_total",
				Help: "Total number of campaigns started",
			},
			nil,
		),
		CampaignsClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_campaigns_closed_total",
				Help: "Total number of campaigns closed",
			},
			[]string{"reason"},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_jobs_enqueued_total",
				Help: "Total number of notification jobs enqueued",
			},
			[]string{"level"},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_notifications_sent_total",
				Help: "Total number of notifications delivered",
			},
			[]string{"level"},
		),
		NotificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_notifications_failed_total",
				Help: "Total number of notifications that exhausted all attempts",
			},
			[]string{"level"},
		),
		NotificationsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_notifications_skipped_total",
				Help: "Total number of jobs dropped without delivery",
			},
			[]string{"reason"},
		),
		PersonalizationWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_personalization_warnings_total",
				Help: "Total number of rendered messages with leftover placeholders",
			},
			[]string{"variant"},
		),

		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_scheduler_runs_total",
				Help: "Total number of scheduler runs",
			},
			[]string{"outcome"},
		),
		SchedulerRunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reengage_scheduler_run_duration_seconds",
				Help:    "Scheduler run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
		),

		ActiveCampaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_active_campaigns",
				Help: "Number of active campaigns",
			},
		),
		QueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_queue_size",
				Help: "Total number of pending and deferred jobs in queue",
			},
		),
		QueueActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_queue_active",
				Help: "Number of jobs currently being processed",
			},
		),
		QueueDeferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_queue_deferred",
				Help: "Number of jobs awaiting retry",
			},
		),
		QueueDLQ: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_queue_dlq",
				Help: "Number of jobs in the dead letter queue",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reengage_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reengage_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reengage_storage_used_bytes",
				Help: "Queue database file size in bytes",
			},
		),

		registry: reg,
	}

	// Counters restored from the collector's snapshot on restart
	m.counters = map[string]*prometheus.CounterVec{
		"reengage_campaigns_created_total":        m.CampaignsCreatedTotal,
		"reengage_campaigns_closed_total":         m.CampaignsClosedTotal,
		"reengage_jobs_enqueued_total":            m.JobsEnqueuedTotal,
		"reengage_notifications_sent_total":       m.NotificationsSentTotal,
		"reengage_notifications_failed_total":     m.NotificationsFailedTotal,
		"reengage_notifications_skipped_total":    m.NotificationsSkippedTotal,
		"reengage_personalization_warnings_total": m.PersonalizationWarningsTotal,
		"reengage_scheduler_runs_total":           m.SchedulerRunsTotal,
		"reengage_api_requests_total":             m.APIRequestsTotal,
		"reengage_api_errors_total":               m.APIErrorsTotal,
	}

	reg.MustRegister(
		m.CampaignsCreatedTotal,
		m.CampaignsClosedTotal,
		m.JobsEnqueuedTotal,
		m.NotificationsSentTotal,
		m.NotificationsFailedTotal,
		m.NotificationsSkippedTotal,
		m.PersonalizationWarningsTotal,
		m.SchedulerRunsTotal,
		m.SchedulerRunDurationSeconds,
		m.ActiveCampaigns,
		m.QueueSize,
		m.QueueActive,
		m.QueueDeferred,
		m.QueueDLQ,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaignsCreated increments the created campaign counter
func IncCampaignsCreated() {
	m := Global()
	if m != nil {
		m.CampaignsCreatedTotal.WithLabelValues().Inc()
	}
}

// IncCampaignsClosed increments the closed campaign counter
func IncCampaignsClosed(reason string) {
	AddCampaignsClosed(reason, 1)
}

// AddCampaignsClosed adds n closed campaigns
func AddCampaignsClosed(reason string, n int) {
	m := Global()
	if m != nil && n > 0 {
		m.CampaignsClosedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// IncJobsEnqueued increments the enqueued job counter
func IncJobsEnqueued(level int) {
	m := Global()
	if m != nil {
		m.JobsEnqueuedTotal.WithLabelValues(strconv.Itoa(level)).Inc()
	}
}

// IncNotificationsSent increments the delivered notification counter
func IncNotificationsSent(level int) {
	m := Global()
	if m != nil {
		m.NotificationsSentTotal.WithLabelValues(strconv.Itoa(level)).Inc()
	}
}

// IncNotificationsFailed increments the failed notification counter
func IncNotificationsFailed(level int) {
	m := Global()
	if m != nil {
		m.NotificationsFailedTotal.WithLabelValues(strconv.Itoa(level)).Inc()
	}
}

// IncNotificationsSkipped increments the skipped job counter
func IncNotificationsSkipped(reason string) {
	m := Global()
	if m != nil {
		m.NotificationsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// IncPersonalizationWarnings increments the leftover placeholder counter
func IncPersonalizationWarnings(variantID string) {
	m := Global()
	if m != nil {
		m.PersonalizationWarningsTotal.WithLabelValues(variantID).Inc()
	}
}

// ObserveSchedulerRun records a finished scheduler run
func ObserveSchedulerRun(outcome string, seconds float64) {
	m := Global()
	if m != nil {
		m.SchedulerRunsTotal.WithLabelValues(outcome).Inc()
		m.SchedulerRunDurationSeconds.Observe(seconds)
	}
}

// SetActiveCampaigns sets the active campaign gauge
func SetActiveCampaigns(n int) {
	m := Global()
	if m != nil {
		m.ActiveCampaigns.Set(float64(n))
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_rate_limit_hits_total",
			Help: "Number of rate-limited ingest requests",
		},
		[]string{"route"},
	)

	// Ingest metrics
	IngestSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_ingest_samples_total",
			Help: "Samples handled by the ingress",
		},
		[]string{"status"}, // status: accepted, stale, duplicate, invalid, failed
	)

	IngestDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_ingest_dropped_total",
			Help: "Samples dropped because a shard queue was full",
		},
	)

	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_ingest_queue_depth",
			Help: "Current number of queued samples per shard",
		},
		[]string{"shard"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netmon_evaluation_duration_seconds",
			Help:    "Time spent evaluating triggers for one sample",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Alert lifecycle metrics
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alert_transitions_total",
			Help: "Alert lifecycle transitions",
		},
		[]string{"status", "level"},
	)

	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_alerts_active",
			Help: "Currently active alerts",
		},
	)

	PersistRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_alert_persist_retries_total",
			Help: "Alert writes that failed and were buffered for retry",
		},
	)

	PersistPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_alert_persist_pending",
			Help: "Alert writes waiting in the retry buffer",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_notifications_total",
			Help: "Notification deliveries per sink",
		},
		[]string{"sink", "status"}, // status: sent, retried, failed, dropped
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)

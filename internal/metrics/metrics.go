package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook metrics
var (
	// WebhooksTotal tracks deliveries by provider and outcome (accepted, skipped, not_allowed, invalid, error)
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_webhooks_total",
			Help: "Total number of webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

// Scan metrics
var (
	// ScansTotal tracks finished scans by target, type and terminal status
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_scans_total",
			Help: "Total number of scans by target, type and status",
		},
		[]string{"target", "scan_type", "status"},
	)

	// ScanDuration tracks sub-pipeline duration
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scangate_scan_duration_seconds",
			Help:    "Scan duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		},
		[]string{"target", "scan_type"},
	)

	// ScansInProgress tracks currently running sub-pipelines
	ScansInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scangate_scans_in_progress",
			Help: "Number of scans currently in progress",
		},
	)

	// DetectorErrorsTotal tracks detector subprocess failures
	DetectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_detector_errors_total",
			Help: "Total number of detector execution failures",
		},
		[]string{"detector"},
	)
)

// Finding metrics
var (
	// FindingsTotal tracks persisted findings; result is inserted or deduplicated
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_findings_total",
			Help: "Total number of findings persisted by kind and result",
		},
		[]string{"kind", "result"},
	)

	// WhitelistReconcileTotal tracks rows changed by whitelist reconciliation
	WhitelistReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_whitelist_reconcile_total",
			Help: "Findings and incidents changed by whitelist reconciliation",
		},
		[]string{"change"},
	)
)

// Publisher metrics
var (
	// PublishTotal tracks provider status/comment calls by provider, kind and result
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_publish_total",
			Help: "Total number of provider publish calls",
		},
		[]string{"provider", "kind", "result"},
	)

	// NotificationsTotal tracks Slack fan-out attempts
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_notifications_total",
			Help: "Total number of notifications sent",
		},
		[]string{"result"},
	)
)

// Repository sweep metrics
var (
	// SweepEnqueuedTotal tracks repository scans enqueued by the sweep
	SweepEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scangate_sweep_enqueued_total",
			Help: "Repository scans enqueued by the sweep",
		},
	)

	// SweepSkippedTotal tracks sweeps skipped because another holder had the lock
	SweepSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scangate_sweep_skipped_total",
			Help: "Sweeps skipped because the lock was held",
		},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks requests by method, route pattern and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scangate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency by route pattern
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scangate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// HTTPRequestsInFlight tracks requests currently being served
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scangate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// RateLimitedTotal tracks webhook deliveries rejected by the per-VC limiter
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scangate_webhook_rate_limited_total",
			Help: "Webhook deliveries rejected by the rate limiter",
		},
	)
)

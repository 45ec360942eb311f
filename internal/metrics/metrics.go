// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package metrics defines the Prometheus instrumentation for Leadsync.
//
// All collectors register on the default registry through promauto and are
// exposed by the admin API at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDeferred  = "deferred"
	OutcomeSkipped   = "skipped"
	OutcomeSuspended = "suspended"
)

var (
	// Sync Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of integration sync jobs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"platform", "outcome"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync jobs by outcome",
		},
		[]string{"platform", "outcome"},
	)

	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Total number of items pulled from platforms",
		},
		[]string{"platform"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync per platform",
		},
		[]string{"platform"},
	)

	IntegrationsSuspended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrations_suspended_total",
			Help: "Total number of integrations suspended after repeated failures",
		},
		[]string{"platform"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of OAuth token refresh attempts",
		},
		[]string{"platform", "result"},
	)

	// Webhook Metrics
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery events (received, duplicate, processed, failed, reset)",
		},
		[]string{"platform", "event"},
	)

	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Duration of webhook delivery processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	WebhookStuckDeliveries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_stuck_deliveries",
			Help: "Deliveries in processing longer than the configured threshold",
		},
	)

	// Queue Metrics
	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task"},
	)

	QueueDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dispatched_total",
			Help: "Total number of tasks published to the message router",
		},
		[]string{"task"},
	)

	QueueRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Total number of task retries scheduled, by error kind",
		},
		[]string{"task", "kind"},
	)

	QueueDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dead_lettered_total",
			Help: "Total number of tasks moved to the dead letter set",
		},
		[]string{"task"},
	)

	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_pending_tasks",
			Help: "Tasks waiting in the durable queue as of the last dispatch pass",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Activity Log Metrics
	ActivityEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_events_dropped_total",
			Help: "Activity events dropped because the buffer was full",
		},
	)

	ActivityWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_write_errors_total",
			Help: "Activity events that failed to persist",
		},
	)

	// Notification Metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suspension_notifications_total",
			Help: "Suspension notifications by channel and result",
		},
		[]string{"channel", "result"},
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_api_request_duration_seconds",
			Help:    "Admin API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordSyncRun records one sync job.
func RecordSyncRun(platform, outcome string, duration time.Duration, items int) {
	SyncDuration.WithLabelValues(platform, outcome).Observe(duration.Seconds())
	SyncRunsTotal.WithLabelValues(platform, outcome).Inc()
	if items > 0 {
		SyncItemsTotal.WithLabelValues(platform).Add(float64(items))
	}
	switch outcome {
	case OutcomeSuccess:
		SyncLastSuccess.WithLabelValues(platform).Set(float64(time.Now().Unix()))
	case OutcomeSuspended:
		IntegrationsSuspended.WithLabelValues(platform).Inc()
	}
}

// RecordTokenRefresh records an OAuth refresh attempt.
func RecordTokenRefresh(platform string, err error) {
	TokenRefreshes.WithLabelValues(platform, resultLabel(err)).Inc()
}

// RecordWebhook records a delivery lifecycle event.
func RecordWebhook(platform, event string) {
	WebhookDeliveries.WithLabelValues(platform, event).Inc()
}

// RecordWebhookProcessing records the time spent processing one delivery.
func RecordWebhookProcessing(platform string, duration time.Duration) {
	WebhookProcessingDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

func RecordEnqueue(task string)    { QueueEnqueued.WithLabelValues(task).Inc() }
func RecordDispatch(task string)   { QueueDispatched.WithLabelValues(task).Inc() }
func RecordDeadLetter(task string) { QueueDeadLettered.WithLabelValues(task).Inc() }

// RecordRetry records a retry scheduled for task after an error of kind.
func RecordRetry(task, kind string) {
	QueueRetries.WithLabelValues(task, kind).Inc()
}

// RecordActivityDrop records an activity event dropped on a full buffer.
func RecordActivityDrop() {
	ActivityEventsDropped.Inc()
}

// RecordActivityWriteError records an activity event lost to a store error.
func RecordActivityWriteError() {
	ActivityWriteErrors.Inc()
}

// RecordNotification records a suspension notification attempt.
func RecordNotification(channel string, err error) {
	NotificationsSent.WithLabelValues(channel, resultLabel(err)).Inc()
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

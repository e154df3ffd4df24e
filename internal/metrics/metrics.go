// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package metrics exposes Prometheus instrumentation for the triage engine:
// event throughput by type, alert volume by kind, detector faults, worker
// pool saturation, and scoring-client latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events accepted by the router, by event type.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatline_events_processed_total",
			Help: "Total number of events processed by the router",
		},
		[]string{"event_type"},
	)

	// EventsUnrecognized counts events with an unroutable type.
	EventsUnrecognized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatline_events_unrecognized_total",
			Help: "Total number of events with an unrecognized type",
		},
	)

	// AlertsEmitted counts alerts emitted to the sink, by alert kind.
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatline_alerts_emitted_total",
			Help: "Total number of alerts emitted",
		},
		[]string{"kind"},
	)

	// DetectorErrors counts evaluation failures, by detector.
	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatline_detector_errors_total",
			Help: "Total number of detector evaluation errors",
		},
		[]string{"detector"},
	)

	// DetectorPanics counts recovered detector panics, by detector.
	DetectorPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatline_detector_panics_total",
			Help: "Total number of recovered detector panics",
		},
		[]string{"detector"},
	)

	// BackgroundDropped counts background tasks dropped because the worker
	// queue was full.
	BackgroundDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatline_background_tasks_dropped_total",
			Help: "Total number of background tasks dropped due to a full queue",
		},
	)

	// WorkerQueueDepth tracks the current depth of the background task queue.
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatline_worker_queue_depth",
			Help: "Current number of queued background tasks",
		},
	)

	// TrackedEntities tracks the number of entity keys held per store.
	TrackedEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatline_tracked_entities",
			Help: "Current number of entity keys with sliding-window state",
		},
		[]string{"store"},
	)

	// ScoringDuration observes anomaly scoring latency in seconds.
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatline_scoring_duration_seconds",
			Help:    "Duration of anomaly model scoring calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SinkErrors counts failed alert deliveries, by sink name.
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatline_sink_errors_total",
			Help: "Total number of failed alert deliveries",
		},
		[]string{"sink"},
	)
)

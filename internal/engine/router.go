// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package engine routes incoming events to the detectors registered for
// their type and owns the background worker path for continuous
// monitoring.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/metrics"
)

// ErrUnrecognizedType reports an event whose type maps to no detector.
// It is observable in the outcome list but never fatal.
var ErrUnrecognizedType = errors.New("unrecognized event type")

// FileScanner is the malware-scanning collaborator invoked for file
// events. The real scanner is an external system; the engine only needs
// this contract.
type FileScanner interface {
	ScanPath(ctx context.Context, path string) (*detection.Alert, error)
	Name() string
}

// Outcome is the per-invocation result of processing one event. Every
// processed event yields one outcome per invoked detector: an alert, an
// explicit no-threat (both nil), or an isolated error.
type Outcome struct {
	Detector string           `json:"detector"`
	Alert    *detection.Alert `json:"alert,omitempty"`
	Err      error            `json:"-"`
}

// Router maps an event's declared type to the ordered set of detectors to
// invoke. It holds no mutable state of its own; all sliding-window state
// lives behind the detectors' stores.
//
// Dispatch table:
//
//	login        -> brute force, VPN, anomaly (concurrent fan-out)
//	network      -> anomaly
//	file         -> malware-scan collaborator
//	url          -> phishing
//	port_monitor -> port scan, as a background task
type Router struct {
	bruteForce detection.Detector
	vpn        detection.Detector
	anomaly    detection.Detector
	phishing   detection.Detector
	portScan   detection.Detector
	scanner    FileScanner
	sink       detection.Sink
	pool       *Pool
}

// NewRouter wires the dispatch table. scanner may be nil when no malware
// collaborator is configured; file events then produce a no-threat outcome.
func NewRouter(
	bruteForce, vpn, anomalyDet, phishing, portScan detection.Detector,
	scanner FileScanner,
	sink detection.Sink,
	pool *Pool,
) *Router {
	return &Router{
		bruteForce: bruteForce,
		vpn:        vpn,
		anomaly:    anomalyDet,
		phishing:   phishing,
		portScan:   portScan,
		scanner:    scanner,
		sink:       sink,
		pool:       pool,
	}
}

// Process runs one event through its detector set. It returns when every
// synchronous invocation has completed and any background work has been
// dispatched; at that point the event counts as processed.
//
// Detector faults, including panics, are isolated per invocation: one
// failing detector never prevents the others from evaluating the same
// event, and validation or routing failures never surface as errors to
// the caller.
func (r *Router) Process(ctx context.Context, e *event.Event) []Outcome {
	if !event.KnownType(e.Type) {
		metrics.EventsUnrecognized.Inc()
		logging.Warn().Str("type", string(e.Type)).Msg("unrecognized event type")
		return []Outcome{{Detector: "router", Err: ErrUnrecognizedType}}
	}

	metrics.EventsProcessed.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case event.TypeLogin:
		return r.fanOut(ctx, e, r.bruteForce, r.vpn, r.anomaly)

	case event.TypeNetwork:
		return []Outcome{r.invoke(ctx, r.anomaly, e)}

	case event.TypeFile:
		return []Outcome{r.scanFile(ctx, e)}

	case event.TypeURL:
		return []Outcome{r.invoke(ctx, r.phishing, e)}

	case event.TypePortMonitor:
		return []Outcome{r.dispatchBackground(e)}
	}

	// Unreachable: KnownType covers the switch.
	return nil
}

// fanOut runs the given detectors against the same event concurrently.
// Outcomes are independent; all invocations complete before Process
// returns. Alerts from concurrent detectors carry no ordering guarantee.
func (r *Router) fanOut(ctx context.Context, e *event.Event, detectors ...detection.Detector) []Outcome {
	outcomes := make([]Outcome, len(detectors))

	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d detection.Detector) {
			defer wg.Done()
			outcomes[i] = r.invoke(ctx, d, e)
		}(i, d)
	}
	wg.Wait()

	return outcomes
}

// invoke evaluates one detector with panic containment and emits any
// resulting alert.
func (r *Router) invoke(ctx context.Context, d detection.Detector, e *event.Event) (out Outcome) {
	name := string(d.Kind())
	out.Detector = name

	defer func() {
		if rec := recover(); rec != nil {
			metrics.DetectorPanics.WithLabelValues(name).Inc()
			logging.Error().Str("detector", name).Interface("panic", rec).Msg("detector panicked")
			out.Err = fmt.Errorf("detector %s panicked: %v", name, rec)
		}
	}()

	alert, err := d.Evaluate(ctx, e)
	if err != nil {
		metrics.DetectorErrors.WithLabelValues(name).Inc()
		logging.Error().Err(err).Str("detector", name).Msg("detector evaluation failed")
		out.Err = err
		return out
	}

	if alert != nil {
		r.emit(ctx, alert)
		out.Alert = alert
	}
	return out
}

// scanFile invokes the malware-scanning collaborator for a file event.
func (r *Router) scanFile(ctx context.Context, e *event.Event) (out Outcome) {
	out.Detector = "malware_scan"

	if e.Path == "" {
		// Missing required field: drop silently per validation policy.
		return out
	}
	if r.scanner == nil {
		logging.Debug().Str("path", e.Path).Msg("no malware scanner configured")
		return out
	}
	out.Detector = r.scanner.Name()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.DetectorPanics.WithLabelValues(out.Detector).Inc()
			logging.Error().Str("scanner", out.Detector).Interface("panic", rec).Msg("malware scanner panicked")
			out.Err = fmt.Errorf("scanner %s panicked: %v", out.Detector, rec)
		}
	}()

	alert, err := r.scanner.ScanPath(ctx, e.Path)
	if err != nil {
		metrics.DetectorErrors.WithLabelValues(out.Detector).Inc()
		logging.Error().Err(err).Str("path", e.Path).Msg("malware scan failed")
		out.Err = err
		return out
	}

	if alert != nil {
		r.emit(ctx, alert)
		out.Alert = alert
	}
	return out
}

// dispatchBackground hands a port-monitor event to the worker pool. The
// task runs independently of the caller and its failures never propagate
// back; a full queue drops the task and records the drop.
func (r *Router) dispatchBackground(e *event.Event) Outcome {
	// Copy: the background task must not share the caller's event.
	ev := *e

	submitted := r.pool.Submit(func() {
		// Deliberately detached from the caller's context.
		r.invoke(context.Background(), r.portScan, &ev)
	})
	if !submitted {
		logging.Warn().Msg("worker queue full, dropping port monitor task")
	}

	return Outcome{Detector: string(r.portScan.Kind())}
}

// emit delivers an alert to the sink. Delivery failures are logged and
// counted but never block or fail detection.
func (r *Router) emit(ctx context.Context, alert *detection.Alert) {
	metrics.AlertsEmitted.WithLabelValues(string(alert.Kind)).Inc()

	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(ctx, alert); err != nil {
		logging.Error().Err(err).Str("sink", r.sink.Name()).Str("kind", string(alert.Kind)).Msg("alert delivery failed")
	}
}

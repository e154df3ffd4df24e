// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package notify provides alert sink implementations: structured logging,
// webhook delivery behind a circuit breaker, an in-memory recent-alert
// feed, and a fan-out combinator over all of them.
package notify

import (
	"context"
	"errors"

	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/metrics"
)

// Fanout delivers each alert to every registered sink. One sink's failure
// never suppresses delivery to the others.
type Fanout struct {
	sinks []detection.Sink
}

// NewFanout creates a fan-out sink over the given sinks.
func NewFanout(sinks ...detection.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Name identifies the sink in logs and metrics.
func (f *Fanout) Name() string {
	return "fanout"
}

// Emit delivers the alert to every sink, collecting failures.
func (f *Fanout) Emit(ctx context.Context, alert *detection.Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, alert); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			logging.Error().Err(err).Str("sink", s.Name()).Msg("sink delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

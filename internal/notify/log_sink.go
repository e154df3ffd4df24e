// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package notify

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/logging"
)

// LogSink writes each alert as one structured log record. It is the
// default sink and never fails.
type LogSink struct{}

// NewLogSink creates a logging sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name identifies the sink in logs and metrics.
func (s *LogSink) Name() string {
	return "log"
}

// Emit writes the alert to the security log.
func (s *LogSink) Emit(_ context.Context, alert *detection.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	logging.Warn().
		Str("kind", string(alert.Kind)).
		Str("ip", alert.IP).
		Str("username", alert.Username).
		Float64("score", alert.Score).
		RawJSON("alert", payload).
		Msg("security alert")
	return nil
}

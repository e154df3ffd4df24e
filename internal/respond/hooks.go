// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package respond holds the automatic response hooks fired alongside
// alert emission. The built-in implementations record the logical action;
// deployments integrate real firewalls or mail gateways behind the same
// interfaces.
package respond

import (
	"context"

	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/logging"
)

// LogResponder implements detection.Responder by recording the
// containment action taken against the offending IP.
type LogResponder struct{}

// NewLogResponder creates the logging auto-response hook.
func NewLogResponder() *LogResponder {
	return &LogResponder{}
}

// Respond logs the block action for the alert's IP.
func (r *LogResponder) Respond(_ context.Context, alert *detection.Alert) {
	logging.Warn().
		Str("alert_id", alert.ID).
		Str("ip", alert.IP).
		Str("username", alert.Username).
		Str("action", "block_ip").
		Msg("Auto-response triggered")
}

// LogQuarantiner implements detection.Quarantiner by recording the
// quarantine action for a flagged URL.
type LogQuarantiner struct{}

// NewLogQuarantiner creates the logging quarantine hook.
func NewLogQuarantiner() *LogQuarantiner {
	return &LogQuarantiner{}
}

// Quarantine logs the quarantine action for the alert's URL.
func (q *LogQuarantiner) Quarantine(_ context.Context, alert *detection.Alert) {
	logging.Warn().
		Str("alert_id", alert.ID).
		Str("url", alert.URL).
		Str("action", "quarantine_url").
		Msg("Quarantine triggered")
}

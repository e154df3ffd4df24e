// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package detection implements the triage detectors: brute force, port
// scan, VPN/proxy, phishing, and the anomaly-score wrapper. Each detector
// evaluates one event at a time against its sliding-window state and
// returns an Alert when its OR-combined signals trigger.
package detection

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/event"
)

// Kind identifies the alert class a detector emits.
type Kind string

const (
	// KindAnomaly is emitted when the statistical model flags an outlier.
	KindAnomaly Kind = "AI_ANOMALY_DETECTED"

	// KindBruteForce covers repeated failures, password spray, and
	// distributed credential stuffing.
	KindBruteForce Kind = "BRUTE_FORCE_DETECTED"

	// KindPortScan covers vertical, horizontal, and rapid scans.
	KindPortScan Kind = "PORT_SCAN_DETECTED"

	// KindVPN flags logins through VPN, proxy, or hosting infrastructure.
	KindVPN Kind = "VPN_OR_PROXY_DETECTED"

	// KindPhishing flags suspicious URLs and credential-harvesting pages.
	KindPhishing Kind = "PHISHING_DETECTED"

	// KindMalware flags file paths matched by the malware scanner.
	KindMalware Kind = "MALWARE_DETECTED"
)

// Alert is an immutable detection result. It is emitted at most once per
// detection episode; the episode ends when the triggering aggregate is
// reset.
type Alert struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"alert"`
	IP        string          `json:"ip,omitempty"`
	Username  string          `json:"username,omitempty"`
	URL       string          `json:"url,omitempty"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
	Score     float64         `json:"score"`
	Timestamp float64         `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
}

// Detector is the capability every triage rule implements.
type Detector interface {
	// Kind returns the alert class this detector emits.
	Kind() Kind

	// Evaluate runs the event through the detector. It returns an alert
	// when the detector's signals trigger, nil when the event is benign,
	// and nil (with no state mutation) when the event lacks the fields
	// this detector requires.
	Evaluate(ctx context.Context, e *event.Event) (*Alert, error)

	// Enabled returns whether this detector is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the detector.
	SetEnabled(enabled bool)
}

// Sink receives emitted alerts. Implementations live outside the
// detection core (logging, webhooks, in-memory feeds).
type Sink interface {
	// Emit delivers one alert. Emit must not block detection; slow
	// transports buffer or drop internally.
	Emit(ctx context.Context, alert *Alert) error

	// Name identifies the sink in logs and metrics.
	Name() string
}

// BruteForceEvidence carries the signal counters behind a brute-force alert.
type BruteForceEvidence struct {
	Failures        int `json:"failures"`
	UniqueUsernames int `json:"unique_usernames"`
	UniqueIPsOnUser int `json:"unique_ips_on_user"`
	Score           int `json:"score"`
}

// PortScanEvidence carries the signal counters behind a port-scan alert.
type PortScanEvidence struct {
	UniquePorts  int `json:"unique_ports"`
	ScanAttempts int `json:"scan_attempts"`
	Score        int `json:"score"`
}

// VPNEvidence carries the per-check contributions behind a VPN alert.
type VPNEvidence struct {
	SuspiciousPrefix bool `json:"suspicious_prefix"`
	KnownExitNode    bool `json:"known_exit_node"`
	HostingProvider  bool `json:"hosting_provider"`
	UniqueRecentIPs  int  `json:"unique_recent_ips"`
	Score            int  `json:"score"`
}

// PhishingEvidence carries the per-check contributions behind a phishing alert.
type PhishingEvidence struct {
	KeywordHits        int  `json:"keyword_hits"`
	SuspiciousTLD      bool `json:"suspicious_tld"`
	LongURL            bool `json:"long_url"`
	IPHost             bool `json:"ip_host"`
	FormTag            bool `json:"form_tag"`
	ExternalFormAction bool `json:"external_form_action"`
	Score              int  `json:"score"`
}

// MalwareEvidence carries the match details behind a malware alert.
type MalwareEvidence struct {
	Path    string `json:"path"`
	Matched string `json:"matched"`
	Rule    string `json:"rule"`
}

// AnomalyEvidence carries the model output behind an anomaly alert.
type AnomalyEvidence struct {
	AnomalyScore      float64 `json:"anomaly_score"`
	Outlier           bool    `json:"outlier"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	FailedLogins      float64 `json:"failed_logins"`
	DataTransferKB    float64 `json:"data_transfer_kb"`
}

// marshalEvidence converts an evidence struct for embedding in an Alert.
// Evidence structs contain only plain fields, so failure is a programming
// error surfaced by the detector's own tests; an empty payload is returned
// rather than suppressing the alert.
func marshalEvidence(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

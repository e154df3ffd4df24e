// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/event"
)

// PhishingConfig configures the phishing URL detector.
type PhishingConfig struct {
	// ScoreThreshold is the additive score at or above which an alert fires.
	ScoreThreshold int `json:"score_threshold" koanf:"score_threshold"`

	// KeywordWeight is added once per keyword found in the URL.
	KeywordWeight int `json:"keyword_weight" koanf:"keyword_weight"`

	// TLDWeight is added when the host ends in a suspicious TLD.
	TLDWeight int `json:"tld_weight" koanf:"tld_weight"`

	// LengthWeight is added when the URL exceeds LengthThreshold characters.
	LengthWeight    int `json:"length_weight" koanf:"length_weight"`
	LengthThreshold int `json:"length_threshold" koanf:"length_threshold"`

	// IPHostWeight is added when the host is a literal dotted-quad address.
	IPHostWeight int `json:"ip_host_weight" koanf:"ip_host_weight"`

	// FormWeight is added when the page HTML contains a form tag.
	FormWeight int `json:"form_weight" koanf:"form_weight"`

	// ExternalActionWeight is added when a form posts to an absolute
	// external target.
	ExternalActionWeight int `json:"external_action_weight" koanf:"external_action_weight"`

	// Keywords are case-folded substrings matched against the URL.
	Keywords []string `json:"keywords" koanf:"keywords"`

	// TLDs are suspicious top-level domain suffixes, with leading dot.
	TLDs []string `json:"tlds" koanf:"tlds"`
}

// DefaultPhishingConfig returns production defaults.
func DefaultPhishingConfig() PhishingConfig {
	return PhishingConfig{
		ScoreThreshold:       60,
		KeywordWeight:        10,
		TLDWeight:            20,
		LengthWeight:         10,
		LengthThreshold:      75,
		IPHostWeight:         25,
		FormWeight:           20,
		ExternalActionWeight: 15,
		Keywords: []string{
			"login", "secure", "update", "verify",
			"account", "bank", "paypal", "confirm",
		},
		TLDs: []string{".xyz", ".top", ".click", ".gq", ".ru"},
	}
}

// Quarantiner is an optional hook invoked when a phishing alert fires
// (blocklist the URL, notify an admin). The action is logical; the
// detector itself mutates no state.
type Quarantiner interface {
	Quarantine(ctx context.Context, alert *Alert)
}

// dottedQuad matches hosts that start with a literal IPv4 address.
var dottedQuad = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+`)

// PhishingDetector scores URLs with five independent stateless checks:
// credential keywords, suspicious TLD, URL length, literal IP host, and
// credential-harvesting form markup. It holds no sliding-window state.
type PhishingDetector struct {
	cfg        PhishingConfig
	quarantine Quarantiner
	enabled    bool
	mu         sync.RWMutex
}

// NewPhishingDetector creates a phishing detector. quarantine may be nil.
func NewPhishingDetector(cfg PhishingConfig, quarantine Quarantiner) *PhishingDetector {
	return &PhishingDetector{
		cfg:        cfg,
		quarantine: quarantine,
		enabled:    true,
	}
}

// Kind returns the alert class.
func (d *PhishingDetector) Kind() Kind {
	return KindPhishing
}

// Evaluate scores one URL event. Events without a url are ignored.
func (d *PhishingDetector) Evaluate(ctx context.Context, e *event.Event) (*Alert, error) {
	d.mu.RLock()
	cfg := d.cfg
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled || e.URL == "" {
		return nil, nil
	}

	score := 0
	evidence := PhishingEvidence{}

	lowerURL := strings.ToLower(e.URL)
	host := ""
	if parsed, err := url.Parse(e.URL); err == nil {
		host = strings.ToLower(parsed.Host)
	}

	for _, kw := range cfg.Keywords {
		if strings.Contains(lowerURL, kw) {
			score += cfg.KeywordWeight
			evidence.KeywordHits++
		}
	}

	for _, tld := range cfg.TLDs {
		if strings.HasSuffix(host, tld) {
			score += cfg.TLDWeight
			evidence.SuspiciousTLD = true
			break
		}
	}

	if len(e.URL) > cfg.LengthThreshold {
		score += cfg.LengthWeight
		evidence.LongURL = true
	}

	if dottedQuad.MatchString(host) {
		score += cfg.IPHostWeight
		evidence.IPHost = true
	}

	if e.HTML != "" {
		html := strings.ToLower(e.HTML)
		if strings.Contains(html, "<form") {
			score += cfg.FormWeight
			evidence.FormTag = true
		}
		if strings.Contains(html, `action="http`) {
			score += cfg.ExternalActionWeight
			evidence.ExternalFormAction = true
		}
	}

	if score < cfg.ScoreThreshold {
		return nil, nil
	}

	// URL events usually carry no caller timestamp; phishing involves no
	// window math, so wall clock is an acceptable fallback here.
	ts := e.Timestamp
	now := time.Now()
	if ts == 0 {
		ts = float64(now.UnixNano()) / float64(time.Second)
	}

	evidence.Score = score
	alert := &Alert{
		ID:        uuid.NewString(),
		Kind:      KindPhishing,
		URL:       e.URL,
		Evidence:  marshalEvidence(evidence),
		Score:     float64(score),
		Timestamp: ts,
		CreatedAt: now,
	}

	if d.quarantine != nil {
		d.quarantine.Quarantine(ctx, alert)
	}

	return alert, nil
}

// Enabled returns whether this detector is enabled.
func (d *PhishingDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *PhishingDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

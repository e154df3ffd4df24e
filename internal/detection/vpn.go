// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/threatline/threatline/internal/event"
)

// VPNConfig configures the VPN/proxy detector.
type VPNConfig struct {
	// ScoreLimit is the additive score at or above which an alert fires.
	ScoreLimit int `json:"score_limit" koanf:"score_limit"`

	// PrefixWeight is added when the IP matches a suspicious prefix.
	PrefixWeight int `json:"prefix_weight" koanf:"prefix_weight"`

	// ExitNodeWeight is added when the IP is a known exit node.
	ExitNodeWeight int `json:"exit_node_weight" koanf:"exit_node_weight"`

	// HostingWeight is added when the org matches a hosting-provider keyword.
	HostingWeight int `json:"hosting_weight" koanf:"hosting_weight"`

	// SwitchingWeight is added when the username switched IPs rapidly.
	SwitchingWeight int `json:"switching_weight" koanf:"switching_weight"`

	// SwitchingWindowSeconds is the window for IP-switching detection.
	SwitchingWindowSeconds float64 `json:"switching_window_seconds" koanf:"switching_window_seconds"`

	// SwitchingMaxIPs is the distinct-IP count above which the
	// IP-switching check contributes.
	SwitchingMaxIPs int `json:"switching_max_ips" koanf:"switching_max_ips"`

	// SuspiciousPrefixes are IP prefixes associated with VPN/proxy ranges.
	SuspiciousPrefixes []string `json:"suspicious_prefixes" koanf:"suspicious_prefixes"`

	// HostingKeywords are case-folded substrings matched against the org field.
	HostingKeywords []string `json:"hosting_keywords" koanf:"hosting_keywords"`

	// ExitNodes are exact IP addresses of known exit nodes.
	ExitNodes []string `json:"exit_nodes" koanf:"exit_nodes"`

	// HistoryMaxUsers bounds how many usernames the IP-switching history
	// tracks at once; least-recently-seen users are evicted first.
	HistoryMaxUsers int `json:"history_max_users" koanf:"history_max_users"`
}

// DefaultVPNConfig returns production defaults. The prefix, keyword, and
// exit-node lists ship with a small seed set; deployments extend them
// through configuration.
func DefaultVPNConfig() VPNConfig {
	return VPNConfig{
		ScoreLimit:             50,
		PrefixWeight:           20,
		ExitNodeWeight:         40,
		HostingWeight:          30,
		SwitchingWeight:        25,
		SwitchingWindowSeconds: 300,
		SwitchingMaxIPs:        3,
		SuspiciousPrefixes:     []string{"185.", "103.", "198.", "172."},
		HostingKeywords: []string{
			"digitalocean", "amazon", "aws",
			"google", "microsoft", "vultr", "ovh",
		},
		ExitNodes:       []string{"185.220.101.1", "51.68.172.45"},
		HistoryMaxUsers: 65536,
	}
}

// ipObservation is one (ip, timestamp) pair in a username's switching history.
type ipObservation struct {
	ip string
	ts float64
}

// userHistory is the append-only, window-pruned IP history for one username.
type userHistory struct {
	mu      sync.Mutex
	entries []ipObservation
}

// VPNDetector scores each login independently: suspicious prefix, known
// exit node, hosting-provider org, and rapid IP switching each contribute
// a fixed weight. No aggregate is reset on alert; only the per-username
// IP-switching history persists across calls.
//
// The history is pruned to the switching window on every call and the set
// of tracked usernames is bounded by an expirable LRU, so a churn of
// throwaway usernames cannot grow memory without limit.
type VPNDetector struct {
	cfg       VPNConfig
	exitNodes map[string]struct{}
	history   *expirable.LRU[string, *userHistory]
	responder Responder
	enabled   bool
	mu        sync.RWMutex
}

// Responder is an optional hook invoked when a VPN alert fires
// (block the IP, force MFA, page the SOC). Failures are the responder's
// concern; the detector does not retry.
type Responder interface {
	Respond(ctx context.Context, alert *Alert)
}

// NewVPNDetector creates a VPN/proxy detector. responder may be nil.
func NewVPNDetector(cfg VPNConfig, responder Responder) *VPNDetector {
	exitNodes := make(map[string]struct{}, len(cfg.ExitNodes))
	for _, ip := range cfg.ExitNodes {
		exitNodes[ip] = struct{}{}
	}

	maxUsers := cfg.HistoryMaxUsers
	if maxUsers <= 0 {
		maxUsers = DefaultVPNConfig().HistoryMaxUsers
	}
	ttl := time.Duration(cfg.SwitchingWindowSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &VPNDetector{
		cfg:       cfg,
		exitNodes: exitNodes,
		history:   expirable.NewLRU[string, *userHistory](maxUsers, nil, ttl),
		responder: responder,
		enabled:   true,
	}
}

// Kind returns the alert class.
func (d *VPNDetector) Kind() Kind {
	return KindVPN
}

// Evaluate scores one login event. Events missing ip, username, or
// timestamp are ignored.
func (d *VPNDetector) Evaluate(ctx context.Context, e *event.Event) (*Alert, error) {
	d.mu.RLock()
	cfg := d.cfg
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled {
		return nil, nil
	}
	if e.IP == "" || e.Username == "" || e.Timestamp == 0 {
		return nil, nil
	}

	score := 0
	evidence := VPNEvidence{}

	for _, prefix := range cfg.SuspiciousPrefixes {
		if strings.HasPrefix(e.IP, prefix) {
			score += cfg.PrefixWeight
			evidence.SuspiciousPrefix = true
			break
		}
	}

	if _, ok := d.exitNodes[e.IP]; ok {
		score += cfg.ExitNodeWeight
		evidence.KnownExitNode = true
	}

	if e.Org != "" {
		org := strings.ToLower(e.Org)
		for _, kw := range cfg.HostingKeywords {
			if strings.Contains(org, kw) {
				score += cfg.HostingWeight
				evidence.HostingProvider = true
				break
			}
		}
	}

	uniqueIPs := d.recordSwitch(e.Username, e.IP, e.Timestamp, cfg.SwitchingWindowSeconds)
	evidence.UniqueRecentIPs = uniqueIPs
	if uniqueIPs > cfg.SwitchingMaxIPs {
		score += cfg.SwitchingWeight
	}

	if score < cfg.ScoreLimit {
		return nil, nil
	}

	evidence.Score = score
	alert := &Alert{
		ID:        uuid.NewString(),
		Kind:      KindVPN,
		IP:        e.IP,
		Username:  e.Username,
		Evidence:  marshalEvidence(evidence),
		Score:     float64(score),
		Timestamp: e.Timestamp,
		CreatedAt: time.Now(),
	}

	if d.responder != nil {
		d.responder.Respond(ctx, alert)
	}

	return alert, nil
}

// recordSwitch appends the (ip, ts) observation to the username's history,
// prunes it to the switching window, and returns the distinct IP count.
func (d *VPNDetector) recordSwitch(username, ip string, ts, window float64) int {
	d.mu.Lock()
	h, ok := d.history.Get(username)
	if !ok {
		h = &userHistory{}
		d.history.Add(username, h)
	}
	d.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, ipObservation{ip: ip, ts: ts})

	kept := h.entries[:0]
	for _, obs := range h.entries {
		if ts-obs.ts <= window {
			kept = append(kept, obs)
		}
	}
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = ipObservation{}
	}
	h.entries = kept

	unique := make(map[string]struct{}, len(h.entries))
	for _, obs := range h.entries {
		unique[obs.ip] = struct{}{}
	}
	return len(unique)
}

// TrackedUsers returns the number of usernames with switching history.
func (d *VPNDetector) TrackedUsers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history.Len()
}

// Enabled returns whether this detector is enabled.
func (d *VPNDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *VPNDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

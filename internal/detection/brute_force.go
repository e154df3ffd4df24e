// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/state"
)

// BruteForceConfig configures the brute-force detector.
type BruteForceConfig struct {
	// WindowSeconds is the sliding window for failure tracking.
	WindowSeconds float64 `json:"window_seconds" koanf:"window_seconds"`

	// FailThreshold is the failure count per IP above which an alert fires.
	FailThreshold int `json:"fail_threshold" koanf:"fail_threshold"`

	// UserTargetThreshold is the distinct-username count per IP above
	// which the password-spray signal fires.
	UserTargetThreshold int `json:"user_target_threshold" koanf:"user_target_threshold"`

	// DistributedThreshold is the distinct-IP count per username above
	// which the credential-stuffing signal fires.
	DistributedThreshold int `json:"distributed_threshold" koanf:"distributed_threshold"`

	// ScoreLimit is the accumulated suspicion score above which an alert fires.
	ScoreLimit int `json:"score_limit" koanf:"score_limit"`

	// ScoreIncrement is added to the IP's score per qualifying failure.
	ScoreIncrement int `json:"score_increment" koanf:"score_increment"`
}

// DefaultBruteForceConfig returns production defaults.
func DefaultBruteForceConfig() BruteForceConfig {
	return BruteForceConfig{
		WindowSeconds:        120,
		FailThreshold:        10,
		UserTargetThreshold:  5,
		DistributedThreshold: 5,
		ScoreLimit:           50,
		ScoreIncrement:       5,
	}
}

// BruteForceDetector tracks failed logins per source IP and per targeted
// username. Four OR-combined signals trigger an alert: raw failure volume,
// password spray (many usernames from one IP), distributed attack (many
// IPs against one username), and accumulated suspicion score.
//
// On alert the IP aggregate is reset but the username aggregate is kept.
// The asymmetry is deliberate: a distributed attack keeps accumulating
// evidence against the targeted account even as individual source IPs
// trip alerts and reset.
type BruteForceDetector struct {
	cfg     BruteForceConfig
	ips     *state.Store // keyed by source IP
	users   *state.Store // keyed by targeted username
	enabled bool
	mu      sync.RWMutex
}

// NewBruteForceDetector creates a brute-force detector over the given
// per-IP and per-username stores. The stores must not be shared with
// other detectors.
func NewBruteForceDetector(cfg BruteForceConfig, ips, users *state.Store) *BruteForceDetector {
	return &BruteForceDetector{
		cfg:     cfg,
		ips:     ips,
		users:   users,
		enabled: true,
	}
}

// Kind returns the alert class.
func (d *BruteForceDetector) Kind() Kind {
	return KindBruteForce
}

// Evaluate processes one login event. Successful logins and events missing
// ip, username, or timestamp are ignored without touching any state.
func (d *BruteForceDetector) Evaluate(_ context.Context, e *event.Event) (*Alert, error) {
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
	if e.Success {
		return nil, nil
	}

	ts := e.Timestamp

	// Username aggregate first: record the source IP, prune, and capture
	// the distributed-attack counter for the IP-side evaluation below.
	var uniqueIPsOnUser int
	d.users.Update(e.Username, func(agg *state.Aggregate) {
		agg.Observe(ts)
		agg.AddSecondary(e.IP)
		agg.Prune(ts, cfg.WindowSeconds)
		uniqueIPsOnUser = agg.SecondaryCount()
	})

	var alert *Alert
	d.ips.Update(e.IP, func(agg *state.Aggregate) {
		agg.Observe(ts)
		agg.AddSecondary(e.Username)
		agg.AddScore(cfg.ScoreIncrement)
		agg.Prune(ts, cfg.WindowSeconds)

		failures := agg.EventCount()
		uniqueUsernames := agg.SecondaryCount()
		score := agg.Score

		tooManyFailures := failures > cfg.FailThreshold
		passwordSpray := uniqueUsernames > cfg.UserTargetThreshold
		distributedAttack := uniqueIPsOnUser > cfg.DistributedThreshold
		highScore := score > cfg.ScoreLimit

		if !tooManyFailures && !passwordSpray && !distributedAttack && !highScore {
			return
		}

		alert = &Alert{
			ID:       uuid.NewString(),
			Kind:     KindBruteForce,
			IP:       e.IP,
			Username: e.Username,
			Evidence: marshalEvidence(BruteForceEvidence{
				Failures:        failures,
				UniqueUsernames: uniqueUsernames,
				UniqueIPsOnUser: uniqueIPsOnUser,
				Score:           score,
			}),
			Score:     float64(score),
			Timestamp: ts,
			CreatedAt: time.Now(),
		}

		// Reset only the attacker IP; the username aggregate keeps
		// tracking distributed behavior across episodes.
		agg.Reset()
	})

	return alert, nil
}

// Enabled returns whether this detector is enabled.
func (d *BruteForceDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *BruteForceDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *BruteForceDetector) Config() BruteForceConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

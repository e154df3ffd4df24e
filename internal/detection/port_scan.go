// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/state"
)

// PortScanConfig configures the port-scan detector.
type PortScanConfig struct {
	// WindowSeconds is the sliding window for connection tracking.
	WindowSeconds float64 `json:"window_seconds" koanf:"window_seconds"`

	// PortThreshold is the distinct-port count above which the
	// vertical/horizontal scan signal fires.
	PortThreshold int `json:"port_threshold" koanf:"port_threshold"`

	// AttemptThreshold is the in-window connection count above which the
	// rapid-scan signal fires.
	AttemptThreshold int `json:"attempt_threshold" koanf:"attempt_threshold"`

	// ScoreLimit is the accumulated score above which an alert fires.
	ScoreLimit int `json:"score_limit" koanf:"score_limit"`

	// ScoreIncrement is added to the IP's score per observed connection.
	ScoreIncrement int `json:"score_increment" koanf:"score_increment"`
}

// DefaultPortScanConfig returns production defaults.
func DefaultPortScanConfig() PortScanConfig {
	return PortScanConfig{
		WindowSeconds:    60,
		PortThreshold:    15,
		AttemptThreshold: 10,
		ScoreLimit:       50,
		ScoreIncrement:   5,
	}
}

// PortScanDetector tracks connection attempts per source IP. Distinct
// ports, raw attempt volume, and accumulated score are OR-combined; an
// alert fully resets the IP's aggregate so the next connection starts a
// fresh episode.
type PortScanDetector struct {
	cfg     PortScanConfig
	ips     *state.Store
	enabled bool
	mu      sync.RWMutex
}

// NewPortScanDetector creates a port-scan detector over the given per-IP store.
func NewPortScanDetector(cfg PortScanConfig, ips *state.Store) *PortScanDetector {
	return &PortScanDetector{
		cfg:     cfg,
		ips:     ips,
		enabled: true,
	}
}

// Kind returns the alert class.
func (d *PortScanDetector) Kind() Kind {
	return KindPortScan
}

// Evaluate processes one connection event. Events missing ip, port, or
// timestamp are ignored without touching any state.
func (d *PortScanDetector) Evaluate(_ context.Context, e *event.Event) (*Alert, error) {
	d.mu.RLock()
	cfg := d.cfg
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled {
		return nil, nil
	}
	if e.IP == "" || e.Port == 0 || e.Timestamp == 0 {
		return nil, nil
	}

	ts := e.Timestamp

	var alert *Alert
	d.ips.Update(e.IP, func(agg *state.Aggregate) {
		agg.AddSecondary(strconv.Itoa(e.Port))
		agg.Observe(ts)
		agg.AddScore(cfg.ScoreIncrement)
		agg.Prune(ts, cfg.WindowSeconds)

		uniquePorts := agg.SecondaryCount()
		attempts := agg.EventCount()
		score := agg.Score

		verticalScan := uniquePorts > cfg.PortThreshold
		rapidScan := attempts > cfg.AttemptThreshold
		highScore := score > cfg.ScoreLimit

		if !verticalScan && !rapidScan && !highScore {
			return
		}

		alert = &Alert{
			ID:   uuid.NewString(),
			Kind: KindPortScan,
			IP:   e.IP,
			Evidence: marshalEvidence(PortScanEvidence{
				UniquePorts:  uniquePorts,
				ScanAttempts: attempts,
				Score:        score,
			}),
			Score:     float64(score),
			Timestamp: ts,
			CreatedAt: time.Now(),
		}

		// Full reset: ports, timestamps, and score all clear.
		agg.Reset()
	})

	return alert, nil
}

// Enabled returns whether this detector is enabled.
func (d *PortScanDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *PortScanDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *PortScanDetector) Config() PortScanConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

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

	"github.com/threatline/threatline/internal/anomaly"
	"github.com/threatline/threatline/internal/event"
)

// Scorer is the scoring-oracle contract the anomaly detector consumes.
// The oracle returns a continuous score and its own binary outlier label;
// the detector applies the configured decision threshold on top.
type Scorer interface {
	Score(ctx context.Context, features anomaly.Features) (score float64, outlier bool, err error)
}

// AnomalyConfig configures the anomaly-score detector.
type AnomalyConfig struct {
	// Threshold is the decision boundary applied to the continuous
	// score; scores below it raise an alert even when the model's own
	// label is negative.
	Threshold float64 `json:"threshold" koanf:"threshold"`
}

// DefaultAnomalyConfig returns production defaults.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{Threshold: -0.2}
}

// AnomalyDetector bridges the statistical scoring oracle into the
// detector set. It extracts the fixed feature vector from an event,
// queries the oracle, and alerts when either the model labels the event
// an outlier or the continuous score crosses the threshold.
type AnomalyDetector struct {
	cfg     AnomalyConfig
	scorer  Scorer
	enabled bool
	mu      sync.RWMutex
}

// NewAnomalyDetector creates an anomaly detector over the given oracle.
func NewAnomalyDetector(cfg AnomalyConfig, scorer Scorer) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:     cfg,
		scorer:  scorer,
		enabled: true,
	}
}

// Kind returns the alert class.
func (d *AnomalyDetector) Kind() Kind {
	return KindAnomaly
}

// Evaluate scores one event's behavioral features. Scoring failures
// (for example, a missing model with retraining disabled) are returned
// to the router, which isolates them from the other detectors.
func (d *AnomalyDetector) Evaluate(ctx context.Context, e *event.Event) (*Alert, error) {
	d.mu.RLock()
	cfg := d.cfg
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled {
		return nil, nil
	}

	features := anomaly.Features{e.RequestsPerMinute, e.FailedLogins, e.DataTransferKB}

	score, outlier, err := d.scorer.Score(ctx, features)
	if err != nil {
		return nil, err
	}

	if !outlier && score >= cfg.Threshold {
		return nil, nil
	}

	ts := e.Timestamp
	now := time.Now()
	if ts == 0 {
		ts = float64(now.UnixNano()) / float64(time.Second)
	}

	return &Alert{
		ID:       uuid.NewString(),
		Kind:     KindAnomaly,
		IP:       e.IP,
		Username: e.Username,
		Evidence: marshalEvidence(AnomalyEvidence{
			AnomalyScore:      score,
			Outlier:           outlier,
			RequestsPerMinute: e.RequestsPerMinute,
			FailedLogins:      e.FailedLogins,
			DataTransferKB:    e.DataTransferKB,
		}),
		Score:     score,
		Timestamp: ts,
		CreatedAt: now,
	}, nil
}

// Enabled returns whether this detector is enabled.
func (d *AnomalyDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *AnomalyDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

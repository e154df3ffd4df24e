// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package anomaly

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/metrics"
)

// ErrModelUnavailable is returned when no model artifact exists and
// retraining is disallowed by configuration. It is fatal to the scoring
// path only; other detectors are unaffected.
var ErrModelUnavailable = errors.New("anomaly model unavailable and retraining disabled")

// FeatureCount is the fixed width of the scoring feature vector.
const FeatureCount = 3

// Features is the numeric vector derived from an event:
// requests per minute, failed-login count, transferred kilobytes.
type Features [FeatureCount]float64

// Config configures the scoring client.
type Config struct {
	// ModelPath is where the persisted model artifact lives. The
	// artifact is an opaque binary blob owned exclusively by this client.
	ModelPath string `koanf:"model_path"`

	// RetrainIfMissing trains and persists a baseline model when no
	// artifact exists at ModelPath. When false and no artifact exists,
	// every scoring call fails with ErrModelUnavailable.
	RetrainIfMissing bool `koanf:"retrain_if_missing"`

	// Fit controls baseline training parameters.
	Fit FitConfig `koanf:"fit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/anomaly_model.gob",
		RetrainIfMissing: true,
		Fit:              DefaultFitConfig(),
	}
}

// Client wraps the scoring oracle. The model is initialized lazily on
// first use and single-flighted: concurrent first calls block on one
// load-or-train, never duplicate it. After initialization the forest is
// read-only and shared across all workers.
//
// Client returns the continuous score and the model's own outlier label;
// any additional decision threshold is the caller's concern.
type Client struct {
	cfg Config

	initOnce sync.Once
	initErr  error
	forest   *Forest
}

// NewClient creates a scoring client. No I/O happens until the first
// Score call (or an explicit Warmup).
func NewClient(cfg Config) *Client {
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultConfig().ModelPath
	}
	return &Client{cfg: cfg}
}

// Warmup forces model initialization ahead of the first scoring call.
func (c *Client) Warmup(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.initOnce.Do(c.initialize)
		close(done)
	}()

	select {
	case <-done:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Score returns the continuous anomaly score and binary outlier label for
// one feature vector. Negative scores fall in the trained outlier region.
func (c *Client) Score(_ context.Context, features Features) (float64, bool, error) {
	c.initOnce.Do(c.initialize)
	if c.initErr != nil {
		return 0, false, fmt.Errorf("anomaly scoring: %w", c.initErr)
	}

	start := time.Now()
	score := c.forest.DecisionFunction(features[:])
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	return score, score < 0, nil
}

// initialize loads the persisted artifact, or trains and persists a
// baseline model when permitted.
func (c *Client) initialize() {
	forest, err := loadModel(c.cfg.ModelPath)
	if err == nil {
		logging.Info().Str("path", c.cfg.ModelPath).Msg("loaded anomaly model")
		c.forest = forest
		return
	}
	if !os.IsNotExist(err) {
		c.initErr = fmt.Errorf("load model: %w", err)
		return
	}

	if !c.cfg.RetrainIfMissing {
		c.initErr = ErrModelUnavailable
		return
	}

	logging.Info().Str("path", c.cfg.ModelPath).Msg("no anomaly model found, training baseline")

	forest, err = Fit(baselineData(c.cfg.Fit.Seed), c.cfg.Fit)
	if err != nil {
		c.initErr = fmt.Errorf("train baseline model: %w", err)
		return
	}
	c.forest = forest

	if err := saveModel(c.cfg.ModelPath, forest); err != nil {
		// The trained model still serves this process; only persistence failed.
		logging.Warn().Err(err).Str("path", c.cfg.ModelPath).Msg("failed to persist anomaly model")
		return
	}
	logging.Info().Str("path", c.cfg.ModelPath).Msg("baseline anomaly model trained and saved")
}

// baselineMean and baselineStddev describe nominal traffic used for
// bootstrap training: ~50 requests/minute, ~5 failed logins, ~300 KB
// transferred.
var (
	baselineMean   = [FeatureCount]float64{50, 5, 300}
	baselineStddev = [FeatureCount]float64{10, 2, 100}
)

const baselineSamples = 1000

// baselineData generates synthetic nominal behavior for bootstrap training.
func baselineData(seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))

	data := make([][]float64, baselineSamples)
	for i := range data {
		row := make([]float64, FeatureCount)
		for j := range row {
			row[j] = baselineMean[j] + rng.NormFloat64()*baselineStddev[j]
		}
		data[i] = row
	}
	return data
}

// loadModel reads a gob-encoded forest from path.
func loadModel(path string) (*Forest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var forest Forest
	if err := gob.NewDecoder(f).Decode(&forest); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return &forest, nil
}

// saveModel writes the forest to path, creating parent directories and
// replacing any existing artifact atomically.
func saveModel(path string, forest *Forest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".anomaly-model-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(forest); err != nil {
		tmp.Close()
		return fmt.Errorf("encode model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

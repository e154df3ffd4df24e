// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package anomaly

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientTrainsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	cfg := DefaultConfig()
	cfg.ModelPath = path

	client := NewClient(cfg)
	require.NoError(t, client.Warmup(context.Background()))

	_, err := os.Stat(path)
	require.NoError(t, err, "model artifact should be persisted")

	score, outlier, err := client.Score(context.Background(), Features{500, 50, 5000})
	require.NoError(t, err)
	assert.True(t, outlier)
	assert.Negative(t, score)
}

func TestClientLoadsPersistedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	cfg := DefaultConfig()
	cfg.ModelPath = path

	first := NewClient(cfg)
	require.NoError(t, first.Warmup(context.Background()))

	features := Features{55, 4, 280}
	want, _, err := first.Score(context.Background(), features)
	require.NoError(t, err)

	// A second client must load the artifact, not retrain: identical model,
	// identical score.
	reload := cfg
	reload.RetrainIfMissing = false
	second := NewClient(reload)

	got, _, err := second.Score(context.Background(), features)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientModelUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.gob")
	cfg.RetrainIfMissing = false

	client := NewClient(cfg)

	_, _, err := client.Score(context.Background(), Features{50, 5, 300})
	require.ErrorIs(t, err, ErrModelUnavailable)

	// The failure is sticky.
	_, _, err = client.Score(context.Background(), Features{50, 5, 300})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestClientConcurrentFirstUse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "model.gob")

	client := NewClient(cfg)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = client.Score(context.Background(), Features{50, 5, 300})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestClientOutlierMatchesScoreSign(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "model.gob")

	client := NewClient(cfg)
	require.NoError(t, client.Warmup(context.Background()))

	for _, features := range []Features{
		{50, 5, 300},
		{80, 8, 500},
		{500, 50, 5000},
		{0, 0, 0},
	} {
		score, outlier, err := client.Score(context.Background(), features)
		require.NoError(t, err)
		assert.Equal(t, score < 0, outlier, "features %v", features)
	}
}

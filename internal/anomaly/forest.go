// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package anomaly provides the statistical scoring oracle: an isolation
// forest trained on baseline behavior, persisted as an opaque artifact,
// and queried with a fixed three-feature vector (request rate, failed
// logins, transferred kilobytes).
package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Forest is a trained isolation forest. All fields are exported for gob
// serialization; treat a loaded forest as read-only.
type Forest struct {
	Trees      []*TreeNode
	SampleSize int
	Features   int

	// Offset is the decision boundary learned at fit time: the
	// contamination quantile of raw sample scores. DecisionFunction
	// subtracts it, so scores below zero mark the trained contamination
	// fraction as outliers.
	Offset float64
}

// TreeNode is one node of an isolation tree. Internal nodes carry a split;
// external nodes carry the size of the sample partition they terminated with.
type TreeNode struct {
	SplitAttr int
	SplitVal  float64
	Left      *TreeNode
	Right     *TreeNode
	Size      int
}

// FitConfig controls forest training.
type FitConfig struct {
	Trees         int     // number of isolation trees (default 100)
	SampleSize    int     // subsample per tree (default 256)
	Contamination float64 // expected outlier fraction (default 0.05)
	Seed          int64   // RNG seed for reproducible training
}

// DefaultFitConfig returns the standard isolation-forest parameters.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.05,
		Seed:          42,
	}
}

// Fit trains an isolation forest on data (rows are samples).
func Fit(data [][]float64, cfg FitConfig) (*Forest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("fit: empty training set")
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 || cfg.SampleSize > len(data) {
		cfg.SampleSize = min(256, len(data))
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = 0.05
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	heightLimit := int(math.Ceil(math.Log2(float64(cfg.SampleSize))))

	f := &Forest{
		Trees:      make([]*TreeNode, 0, cfg.Trees),
		SampleSize: cfg.SampleSize,
		Features:   len(data[0]),
	}

	for i := 0; i < cfg.Trees; i++ {
		sample := subsample(data, cfg.SampleSize, rng)
		f.Trees = append(f.Trees, buildTree(sample, 0, heightLimit, rng))
	}

	// Learn the decision offset from the contamination quantile of the
	// training scores, mirroring how contamination-calibrated forests
	// place their boundary.
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = -f.anomalyScore(row)
	}
	sort.Float64s(scores)
	idx := int(cfg.Contamination * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.Offset = scores[idx]

	return f, nil
}

// DecisionFunction returns the calibrated score for one sample: negative
// values fall in the trained outlier region, positive values are inliers.
func (f *Forest) DecisionFunction(x []float64) float64 {
	return -f.anomalyScore(x) - f.Offset
}

// anomalyScore is the raw isolation score in (0, 1]: short average path
// lengths (easy to isolate) push the score toward 1.
func (f *Forest) anomalyScore(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.Trees))

	return math.Pow(2, -avg/avgPathLength(f.SampleSize))
}

func pathLength(node *TreeNode, x []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + avgPathLength(node.Size)
	}
	if x[node.SplitAttr] < node.SplitVal {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

const eulerGamma = 0.5772156649015329

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n points; it normalizes isolation depths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func buildTree(sample [][]float64, depth, heightLimit int, rng *rand.Rand) *TreeNode {
	if depth >= heightLimit || len(sample) <= 1 {
		return &TreeNode{Size: len(sample)}
	}

	attr := rng.Intn(len(sample[0]))
	lo, hi := sample[0][attr], sample[0][attr]
	for _, row := range sample[1:] {
		if row[attr] < lo {
			lo = row[attr]
		}
		if row[attr] > hi {
			hi = row[attr]
		}
	}
	if lo == hi {
		return &TreeNode{Size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range sample {
		if row[attr] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &TreeNode{
		SplitAttr: attr,
		SplitVal:  split,
		Left:      buildTree(left, depth+1, heightLimit, rng),
		Right:     buildTree(right, depth+1, heightLimit, rng),
	}
}

func subsample(data [][]float64, n int, rng *rand.Rand) [][]float64 {
	if n >= len(data) {
		return data
	}
	idx := rng.Perm(len(data))[:n]
	sample := make([][]float64, n)
	for i, j := range idx {
		sample[i] = data[j]
	}
	return sample
}

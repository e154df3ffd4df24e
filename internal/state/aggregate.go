// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package state provides the sharded per-entity sliding-window store that
// backs the stateful detectors. The store owns every aggregate record;
// detectors borrow mutable access through per-key critical sections.
package state

// Aggregate is the per-key sliding-window record tracked for an entity
// (an IP address or a username, depending on the detector).
//
// Timestamps are caller-supplied values in seconds. The engine never reads
// the system clock for window math, so pruning is deterministic for any
// given event stream.
type Aggregate struct {
	// Events holds timestamps of qualifying occurrences, pruned to the
	// detector's window before every threshold evaluation.
	Events []float64

	// Secondary holds distinct secondary identifiers observed for the key
	// (usernames for an IP, ports for an IP, IPs for a username).
	Secondary map[string]struct{}

	// Score accumulates per-event increments. It never decreases except
	// on a full reset.
	Score int
}

func newAggregate() *Aggregate {
	return &Aggregate{
		Events:    make([]float64, 0, 8),
		Secondary: make(map[string]struct{}),
	}
}

// Observe appends a qualifying occurrence timestamp.
func (a *Aggregate) Observe(ts float64) {
	a.Events = append(a.Events, ts)
}

// AddSecondary records a distinct secondary identifier.
func (a *Aggregate) AddSecondary(v string) {
	a.Secondary[v] = struct{}{}
}

// AddScore increments the accumulated score.
func (a *Aggregate) AddScore(delta int) {
	a.Score += delta
}

// Prune drops every timestamp t with ref-t > window. Retained timestamps
// keep their order. Secondary identifiers and score are not pruned; only
// a full Reset clears those.
func (a *Aggregate) Prune(ref, window float64) {
	kept := a.Events[:0]
	for _, t := range a.Events {
		if ref-t <= window {
			kept = append(kept, t)
		}
	}
	// Zero the tail so pruned values do not pin memory in the backing array.
	for i := len(kept); i < len(a.Events); i++ {
		a.Events[i] = 0
	}
	a.Events = kept
}

// EventCount returns the number of retained timestamps.
func (a *Aggregate) EventCount() int {
	return len(a.Events)
}

// SecondaryCount returns the number of distinct secondary identifiers.
func (a *Aggregate) SecondaryCount() int {
	return len(a.Secondary)
}

// Reset clears events, secondary identifiers, and score. Callers must hold
// the key's critical section; the store's Update and Reset do.
func (a *Aggregate) Reset() {
	a.Events = a.Events[:0]
	a.Secondary = make(map[string]struct{})
	a.Score = 0
}

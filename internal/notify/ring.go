// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package notify

import (
	"context"
	"sync"

	"github.com/threatline/threatline/internal/detection"
)

// RingSink keeps the most recent alerts in memory for the alerts API.
// Oldest entries are overwritten once capacity is reached.
type RingSink struct {
	mu     sync.RWMutex
	alerts []*detection.Alert
	next   int
	full   bool
}

// NewRingSink creates a ring sink holding up to capacity alerts.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingSink{alerts: make([]*detection.Alert, capacity)}
}

// Name identifies the sink in logs and metrics.
func (s *RingSink) Name() string {
	return "ring"
}

// Emit records the alert, overwriting the oldest entry when full.
func (s *RingSink) Emit(_ context.Context, alert *detection.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[s.next] = alert
	s.next = (s.next + 1) % len(s.alerts)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns the stored alerts, newest first.
func (s *RingSink) Recent() []*detection.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.alerts)
	}

	out := make([]*detection.Alert, 0, size)
	for i := 1; i <= size; i++ {
		idx := (s.next - i + len(s.alerts)) % len(s.alerts)
		out = append(out, s.alerts[idx])
	}
	return out
}

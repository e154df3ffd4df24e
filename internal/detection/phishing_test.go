// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/event"
)

func urlEvent(u string) *event.Event {
	return &event.Event{Type: event.TypeURL, URL: u}
}

type captureQuarantiner struct {
	mu     sync.Mutex
	alerts []*Alert
}

func (q *captureQuarantiner) Quarantine(_ context.Context, alert *Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alerts = append(q.alerts, alert)
}

func (q *captureQuarantiner) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.alerts)
}

func TestPhishingAdditiveScoring(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)

	// Five keywords (50) + .xyz TLD (20) + length over 75 (10) + form tag
	// (20) + external form action (15) = 115.
	e := urlEvent("http://verify-login-update.xyz/confirm/account/" + strings.Repeat("x", 40))
	e.HTML = `<html><form action="http://evil.example/harvest"><input name="password"></form></html>`

	alert, err := d.Evaluate(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected phishing alert")
	}
	if alert.Score != 115 {
		t.Errorf("score = %v, want 115", alert.Score)
	}
	if alert.URL != e.URL {
		t.Errorf("alert URL = %q, want %q", alert.URL, e.URL)
	}

	var ev PhishingEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.KeywordHits != 5 {
		t.Errorf("keyword_hits = %d, want 5", ev.KeywordHits)
	}
	if !ev.SuspiciousTLD || !ev.LongURL || !ev.FormTag || !ev.ExternalFormAction {
		t.Errorf("evidence flags = %+v, want tld/length/form/external all set", ev)
	}
}

func TestPhishingSafeURL(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)

	alert, err := d.Evaluate(context.Background(), urlEvent("https://example.com/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("clean URL produced an alert")
	}
}

func TestPhishingKeywordsAloneBelowThreshold(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)

	// Five keywords score 50, under the 60 threshold without a second signal.
	alert, err := d.Evaluate(context.Background(),
		urlEvent("http://a.com/login-secure-update-verify-account"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("keywords alone should stay below the threshold")
	}
}

func TestPhishingIPHost(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)

	// Four keywords (40) + literal IP host (25) = 65.
	alert, err := d.Evaluate(context.Background(),
		urlEvent("http://185.99.3.4/login-verify-update-confirm"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert for literal IP host")
	}

	var ev PhishingEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if !ev.IPHost {
		t.Error("ip_host not set")
	}
}

func TestPhishingQuarantineHook(t *testing.T) {
	quarantine := &captureQuarantiner{}
	d := NewPhishingDetector(DefaultPhishingConfig(), quarantine)
	ctx := context.Background()

	e := urlEvent("http://verify-login-update.xyz/confirm/account")
	if _, err := d.Evaluate(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quarantine.count() != 1 {
		t.Fatalf("quarantine invocations = %d, want 1", quarantine.count())
	}

	if _, err := d.Evaluate(ctx, urlEvent("https://example.com/")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quarantine.count() != 1 {
		t.Error("quarantine invoked without an alert")
	}
}

func TestPhishingEmptyURLDrop(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)

	alert, err := d.Evaluate(context.Background(), &event.Event{Type: event.TypeURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("empty URL produced an alert")
	}
}

func TestPhishingDisabled(t *testing.T) {
	d := NewPhishingDetector(DefaultPhishingConfig(), nil)
	d.SetEnabled(false)

	alert, err := d.Evaluate(context.Background(),
		urlEvent("http://verify-login-update.xyz/confirm/account"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("disabled detector emitted an alert")
	}
}

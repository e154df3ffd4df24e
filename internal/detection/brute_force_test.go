// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package detection

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/state"
)

func failedLogin(ip, username string, ts float64) *event.Event {
	return &event.Event{
		Type:      event.TypeLogin,
		IP:        ip,
		Username:  username,
		Success:   false,
		Timestamp: ts,
	}
}

func TestBruteForceThresholdExactness(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	// 10 failures: no signal crosses its strict threshold.
	for i := 1; i <= 10; i++ {
		alert, err := d.Evaluate(ctx, failedLogin("10.0.0.1", "alice", float64(i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert != nil {
			t.Fatalf("alert after %d failures, want none before the 11th", i)
		}
	}

	// The 11th failure crosses FailThreshold.
	alert, err := d.Evaluate(ctx, failedLogin("10.0.0.1", "alice", 11))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert on 11th failure")
	}
	if alert.Kind != KindBruteForce {
		t.Errorf("kind = %s, want %s", alert.Kind, KindBruteForce)
	}
	if alert.IP != "10.0.0.1" || alert.Username != "alice" {
		t.Errorf("entity fields = %s/%s", alert.IP, alert.Username)
	}

	var ev BruteForceEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.Failures != 11 {
		t.Errorf("failures = %d, want 11", ev.Failures)
	}
}

func TestBruteForcePasswordSpray(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	// One IP cycling distinct usernames. The 6th distinct username crosses
	// UserTargetThreshold while raw failures (6) stay below FailThreshold.
	var alert *Alert
	for i := 1; i <= 6; i++ {
		var err error
		alert, err = d.Evaluate(ctx, failedLogin("10.0.0.2", fmt.Sprintf("user%d", i), float64(i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i < 6 && alert != nil {
			t.Fatalf("alert after %d usernames, want none before the 6th", i)
		}
	}
	if alert == nil {
		t.Fatal("expected password-spray alert on 6th distinct username")
	}

	var ev BruteForceEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.UniqueUsernames != 6 {
		t.Errorf("unique_usernames = %d, want 6", ev.UniqueUsernames)
	}
	if ev.Failures >= DefaultBruteForceConfig().FailThreshold {
		t.Errorf("failures = %d, spray should fire below FailThreshold", ev.Failures)
	}
}

func TestBruteForceDistributedAttack(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	// Six IPs, one failure each, all against the same account. The 6th
	// distinct IP crosses DistributedThreshold even though every per-IP
	// aggregate holds a single failure.
	var alert *Alert
	for i := 1; i <= 6; i++ {
		var err error
		alert, err = d.Evaluate(ctx, failedLogin(fmt.Sprintf("10.1.0.%d", i), "admin", float64(i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i < 6 && alert != nil {
			t.Fatalf("alert after %d source IPs, want none before the 6th", i)
		}
	}
	if alert == nil {
		t.Fatal("expected distributed-attack alert on 6th source IP")
	}

	var ev BruteForceEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.UniqueIPsOnUser != 6 {
		t.Errorf("unique_ips_on_user = %d, want 6", ev.UniqueIPsOnUser)
	}
}

func TestBruteForceResetAsymmetry(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	for i := 1; i <= 11; i++ {
		if _, err := d.Evaluate(ctx, failedLogin("10.0.0.3", "bob", float64(i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// IP aggregate fully cleared.
	ipSnap := ips.Snapshot("10.0.0.3")
	if ipSnap == nil {
		t.Fatal("IP aggregate missing")
	}
	if ipSnap.EventCount() != 0 || ipSnap.SecondaryCount() != 0 || ipSnap.Score != 0 {
		t.Errorf("IP aggregate not reset: events=%d secondary=%d score=%d",
			ipSnap.EventCount(), ipSnap.SecondaryCount(), ipSnap.Score)
	}

	// Username aggregate keeps tracking the episode.
	userSnap := users.Snapshot("bob")
	if userSnap == nil {
		t.Fatal("username aggregate missing")
	}
	if userSnap.EventCount() != 11 {
		t.Errorf("username events = %d, want 11", userSnap.EventCount())
	}
	if userSnap.SecondaryCount() != 1 {
		t.Errorf("username secondary = %d, want 1", userSnap.SecondaryCount())
	}
}

func TestBruteForceSuccessIsNoop(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	e := failedLogin("10.0.0.4", "carol", 1)
	e.Success = true
	for i := 0; i < 20; i++ {
		alert, err := d.Evaluate(ctx, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert != nil {
			t.Fatal("successful login produced an alert")
		}
	}
	if ips.Snapshot("10.0.0.4") != nil {
		t.Error("successful login mutated IP state")
	}
	if users.Snapshot("carol") != nil {
		t.Error("successful login mutated username state")
	}
}

func TestBruteForceMissingFieldsDrop(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	cases := []*event.Event{
		{Type: event.TypeLogin, Username: "dave", Timestamp: 1},
		{Type: event.TypeLogin, IP: "10.0.0.5", Timestamp: 1},
		{Type: event.TypeLogin, IP: "10.0.0.5", Username: "dave"},
	}
	for _, e := range cases {
		alert, err := d.Evaluate(ctx, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert != nil {
			t.Error("incomplete event produced an alert")
		}
	}
	if ips.Snapshot("10.0.0.5") != nil || users.Snapshot("dave") != nil {
		t.Error("incomplete event mutated state")
	}
}

func TestBruteForceWindowExpiry(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	// A few failures early, then one far outside the window: the old
	// failures no longer count toward the failure signal, so no alert
	// fires. Kept below the score limit, which only resets on alert.
	for i := 1; i <= 5; i++ {
		if _, err := d.Evaluate(ctx, failedLogin("10.0.0.6", "erin", float64(i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	alert, err := d.Evaluate(ctx, failedLogin("10.0.0.6", "erin", 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("stale failures counted toward the threshold")
	}
	if got := ips.Snapshot("10.0.0.6").EventCount(); got != 1 {
		t.Errorf("in-window failures = %d, want 1", got)
	}
}

func TestBruteForceDisabled(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	d.SetEnabled(false)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		alert, err := d.Evaluate(ctx, failedLogin("10.0.0.7", "frank", float64(i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert != nil {
			t.Fatal("disabled detector emitted an alert")
		}
	}
	if ips.Snapshot("10.0.0.7") != nil {
		t.Error("disabled detector mutated state")
	}
}

func TestBruteForceConcurrentDistinctIPs(t *testing.T) {
	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(DefaultBruteForceConfig(), ips, users)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.2.0.%d", w)
			user := fmt.Sprintf("user%d", w)
			for i := 1; i <= 5; i++ {
				if _, err := d.Evaluate(ctx, failedLogin(ip, user, float64(i))); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 4; w++ {
		snap := ips.Snapshot(fmt.Sprintf("10.2.0.%d", w))
		if snap == nil || snap.EventCount() != 5 {
			t.Errorf("IP %d aggregate corrupted by concurrency", w)
		}
	}
}

func TestBruteForceScoreSignal(t *testing.T) {
	// Raise the other thresholds so only the score signal can fire: with
	// increment 5 and limit 50, the 11th failure pushes the score to 55.
	cfg := DefaultBruteForceConfig()
	cfg.FailThreshold = 100
	cfg.UserTargetThreshold = 100
	cfg.DistributedThreshold = 100

	ips, users := state.NewStore(), state.NewStore()
	d := NewBruteForceDetector(cfg, ips, users)
	ctx := context.Background()

	var alert *Alert
	for i := 1; i <= 11; i++ {
		var err error
		alert, err = d.Evaluate(ctx, failedLogin("10.0.0.8", "grace", float64(i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i < 11 && alert != nil {
			t.Fatalf("alert at failure %d, want none before score exceeds limit", i)
		}
	}
	if alert == nil {
		t.Fatal("expected score-driven alert on 11th failure")
	}
	if alert.Score != 55 {
		t.Errorf("score = %v, want 55", alert.Score)
	}
}

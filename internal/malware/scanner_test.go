// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package malware

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/detection"
)

func TestBlocklistExtensionMatch(t *testing.T) {
	b := NewBlocklist(DefaultBlocklistConfig())

	alert, err := b.ScanPath(context.Background(), "/home/user/downloads/invoice.exe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert for .exe")
	}
	if alert.Kind != detection.KindMalware {
		t.Errorf("kind = %s, want %s", alert.Kind, detection.KindMalware)
	}

	var ev detection.MalwareEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.Rule != "extension" || ev.Matched != ".exe" {
		t.Errorf("evidence = %+v", ev)
	}
	if ev.Path != "/home/user/downloads/invoice.exe" {
		t.Errorf("path = %q", ev.Path)
	}
}

func TestBlocklistMarkerMatch(t *testing.T) {
	b := NewBlocklist(DefaultBlocklistConfig())

	alert, err := b.ScanPath(context.Background(), "/tmp/mimikatz_dump.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert for marker")
	}

	var ev detection.MalwareEvidence
	if err := json.Unmarshal(alert.Evidence, &ev); err != nil {
		t.Fatalf("evidence unmarshal: %v", err)
	}
	if ev.Rule != "marker" || ev.Matched != "mimikatz" {
		t.Errorf("evidence = %+v", ev)
	}
}

func TestBlocklistCaseInsensitive(t *testing.T) {
	b := NewBlocklist(DefaultBlocklistConfig())

	for _, path := range []string{"/tmp/SETUP.EXE", "/srv/MiMiKaTz.log"} {
		alert, err := b.ScanPath(context.Background(), path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert == nil {
			t.Errorf("no alert for %s", path)
		}
	}
}

func TestBlocklistCleanPath(t *testing.T) {
	b := NewBlocklist(DefaultBlocklistConfig())

	for _, path := range []string{"/home/user/report.pdf", "/var/log/syslog", "/tmp/exe"} {
		alert, err := b.ScanPath(context.Background(), path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alert != nil {
			t.Errorf("clean path %s flagged", path)
		}
	}
}

func TestBlocklistCustomConfig(t *testing.T) {
	b := NewBlocklist(BlocklistConfig{
		Extensions: []string{".XLSM"},
		Markers:    []string{"dropper"},
	})

	alert, err := b.ScanPath(context.Background(), "/srv/payroll.xlsm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Error("custom extension not matched")
	}

	alert, err = b.ScanPath(context.Background(), "/srv/update-dropper.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Error("custom marker not matched")
	}

	// Defaults do not apply when a custom list is supplied.
	alert, err = b.ScanPath(context.Background(), "/srv/tool.exe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Error("default extension matched under custom config")
	}
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package malware provides the file-scan collaborator used by the event
// router. The production deployment plugs in an external scanner; the
// blocklist implementation here covers extension and filename markers so
// the file route works out of the box.
package malware

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/detection"
)

// BlocklistConfig holds blocklist scanner settings.
type BlocklistConfig struct {
	// Extensions are lowercase file extensions (with leading dot) that
	// always flag.
	Extensions []string `koanf:"extensions" json:"extensions"`

	// Markers are lowercase substrings of the base filename that flag.
	Markers []string `koanf:"markers" json:"markers"`
}

// DefaultBlocklistConfig returns the built-in blocklist.
func DefaultBlocklistConfig() BlocklistConfig {
	return BlocklistConfig{
		Extensions: []string{
			".exe", ".scr", ".bat", ".ps1", ".vbs", ".jar", ".dll",
		},
		Markers: []string{
			"mimikatz", "ransom", "cryptolocker", "keylog", "backdoor",
		},
	}
}

// Blocklist matches file paths against known-bad extensions and filename
// markers.
type Blocklist struct {
	extensions map[string]struct{}
	markers    []string
}

// NewBlocklist creates a blocklist scanner from cfg.
func NewBlocklist(cfg BlocklistConfig) *Blocklist {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	markers := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		markers = append(markers, strings.ToLower(m))
	}
	return &Blocklist{extensions: exts, markers: markers}
}

// Name identifies the scanner in logs.
func (b *Blocklist) Name() string {
	return "blocklist"
}

// ScanPath checks the path against the blocklist. It returns an alert on
// a match and nil when the path is clean. The path is matched by name
// only; file contents are never read.
func (b *Blocklist) ScanPath(_ context.Context, path string) (*detection.Alert, error) {
	base := strings.ToLower(filepath.Base(path))

	ext := filepath.Ext(base)
	if _, ok := b.extensions[ext]; ok {
		return b.alert(path, ext, "extension"), nil
	}
	for _, m := range b.markers {
		if strings.Contains(base, m) {
			return b.alert(path, m, "marker"), nil
		}
	}
	return nil, nil
}

func (b *Blocklist) alert(path, matched, rule string) *detection.Alert {
	now := time.Now()
	evidence, _ := json.Marshal(detection.MalwareEvidence{
		Path:    path,
		Matched: matched,
		Rule:    rule,
	})
	return &detection.Alert{
		ID:        uuid.NewString(),
		Kind:      detection.KindMalware,
		Evidence:  evidence,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		CreatedAt: now,
	}
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package event defines the telemetry event schema consumed by the triage
// engine.
package event

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Type tags an event with the telemetry source it came from.
type Type string

const (
	TypeLogin       Type = "login"
	TypeNetwork     Type = "network"
	TypeFile        Type = "file"
	TypeURL         Type = "url"
	TypePortMonitor Type = "port_monitor"
)

// Event is a discrete telemetry record. Which fields are meaningful depends
// on Type; detectors validate the fields they need and drop events that
// lack them, without mutating any state.
//
// Timestamp is a caller-supplied wall-clock value in seconds. A zero
// timestamp is treated as absent. The engine performs all window math
// against event timestamps, never the system clock.
type Event struct {
	Type Type `json:"type"`

	// login / network / port_monitor fields
	IP        string  `json:"ip,omitempty"`
	Username  string  `json:"username,omitempty"`
	Success   bool    `json:"success,omitempty"`
	Port      int     `json:"port,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Org       string  `json:"org,omitempty"`

	// file fields
	Path string `json:"path,omitempty"`

	// url fields
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`

	// behavioral features consumed by the anomaly scoring client
	RequestsPerMinute float64 `json:"requests_per_minute,omitempty"`
	FailedLogins      float64 `json:"failed_logins,omitempty"`
	DataTransferKB    float64 `json:"data_transfer_kb,omitempty"`
}

// KnownType reports whether t is one of the routable event types.
func KnownType(t Type) bool {
	switch t {
	case TypeLogin, TypeNetwork, TypeFile, TypeURL, TypePortMonitor:
		return true
	default:
		return false
	}
}

// Decode parses a JSON event payload.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}
	return &e, nil
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package config loads and validates the Threatline configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/threatline/threatline/internal/anomaly"
	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/engine"
	"github.com/threatline/threatline/internal/malware"
	"github.com/threatline/threatline/internal/notify"
)

// Config is the root configuration for the triage engine.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Logging   LoggingConfig     `koanf:"logging"`
	Workers   engine.PoolConfig `koanf:"workers"`
	Detectors DetectorsConfig   `koanf:"detectors"`
	Anomaly   anomaly.Config    `koanf:"anomaly"`
	NATS      NATSConfig        `koanf:"nats"`
	Sinks     SinksConfig       `koanf:"sinks"`
}

// ServerConfig holds HTTP ingest settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DetectorsConfig groups per-detector settings. Each detector can be
// disabled independently without affecting the others.
type DetectorsConfig struct {
	BruteForce DetectorToggle[detection.BruteForceConfig] `koanf:"brute_force"`
	PortScan   DetectorToggle[detection.PortScanConfig]   `koanf:"port_scan"`
	VPN        DetectorToggle[detection.VPNConfig]        `koanf:"vpn"`
	Phishing   DetectorToggle[detection.PhishingConfig]   `koanf:"phishing"`
	Anomaly    DetectorToggle[detection.AnomalyConfig]    `koanf:"anomaly"`
	Malware    DetectorToggle[malware.BlocklistConfig]    `koanf:"malware"`
}

// DetectorToggle pairs a detector's settings with an enabled switch.
type DetectorToggle[T any] struct {
	Enabled  bool `koanf:"enabled"`
	Settings T    `koanf:"settings"`
}

// NATSConfig holds the optional NATS event ingest settings.
type NATSConfig struct {
	Enabled    bool   `koanf:"enabled"`
	URL        string `koanf:"url"`
	Subject    string `koanf:"subject"`
	QueueGroup string `koanf:"queue_group"`
}

// SinksConfig holds alert delivery settings.
type SinksConfig struct {
	// RingCapacity bounds the in-memory recent-alert feed.
	RingCapacity int `koanf:"ring_capacity" validate:"min=1"`

	// WebhookEnabled turns on webhook delivery; Webhook.URL is then
	// required.
	WebhookEnabled bool                 `koanf:"webhook_enabled"`
	Webhook        notify.WebhookConfig `koanf:"webhook"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8471,
			Timeout:         30 * time.Second,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Workers: engine.DefaultPoolConfig(),
		Detectors: DetectorsConfig{
			BruteForce: DetectorToggle[detection.BruteForceConfig]{
				Enabled:  true,
				Settings: detection.DefaultBruteForceConfig(),
			},
			PortScan: DetectorToggle[detection.PortScanConfig]{
				Enabled:  true,
				Settings: detection.DefaultPortScanConfig(),
			},
			VPN: DetectorToggle[detection.VPNConfig]{
				Enabled:  true,
				Settings: detection.DefaultVPNConfig(),
			},
			Phishing: DetectorToggle[detection.PhishingConfig]{
				Enabled:  true,
				Settings: detection.DefaultPhishingConfig(),
			},
			Anomaly: DetectorToggle[detection.AnomalyConfig]{
				Enabled:  true,
				Settings: detection.DefaultAnomalyConfig(),
			},
			Malware: DetectorToggle[malware.BlocklistConfig]{
				Enabled:  true,
				Settings: malware.DefaultBlocklistConfig(),
			},
		},
		Anomaly: anomaly.DefaultConfig(),
		NATS: NATSConfig{
			Enabled:    false,
			URL:        "nats://127.0.0.1:4222",
			Subject:    "threatline.events",
			QueueGroup: "triage",
		},
		Sinks: SinksConfig{
			RingCapacity:   512,
			WebhookEnabled: false,
			Webhook:        notify.DefaultWebhookConfig(),
		},
	}
}

// validate is shared across Load calls; the validator caches struct
// metadata internally and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sinks.WebhookEnabled {
		if err := validate.Var(c.Sinks.Webhook.URL, "required,url"); err != nil {
			return fmt.Errorf("WEBHOOK_URL is required when webhook delivery is enabled: %w", err)
		}
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("NATS_URL is required when NATS ingest is enabled")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("NATS_SUBJECT must not be empty")
		}
	}
	return nil
}

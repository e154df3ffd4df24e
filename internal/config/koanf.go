// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/threatline/config.yaml",
	"/etc/threatline/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as strings from env vars.
var sliceConfigPaths = []string{
	"detectors.phishing.settings.keywords",
	"detectors.phishing.settings.tlds",
	"detectors.vpn.settings.suspicious_prefixes",
	"detectors.vpn.settings.hosting_keywords",
	"detectors.vpn.settings.exit_nodes",
	"detectors.malware.settings.extensions",
	"detectors.malware.settings.markers",
}

// processSliceFields converts comma-separated env values to slices for
// known slice fields. YAML-sourced slices are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so unrelated environment noise never
// pollutes the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":         "server.host",
		"http_port":         "server.port",
		"http_timeout":      "server.timeout",
		"rate_limit_reqs":   "server.rate_limit_reqs",
		"rate_limit_window": "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Worker pool mappings
		"worker_count":      "workers.workers",
		"worker_queue_size": "workers.queue_size",

		// Detector toggles
		"detector_brute_force_enabled": "detectors.brute_force.enabled",
		"detector_port_scan_enabled":   "detectors.port_scan.enabled",
		"detector_vpn_enabled":         "detectors.vpn.enabled",
		"detector_phishing_enabled":    "detectors.phishing.enabled",
		"detector_anomaly_enabled":     "detectors.anomaly.enabled",
		"detector_malware_enabled":     "detectors.malware.enabled",

		// Brute-force settings
		"brute_force_window":       "detectors.brute_force.settings.window_seconds",
		"brute_force_threshold":    "detectors.brute_force.settings.fail_threshold",
		"brute_force_user_targets": "detectors.brute_force.settings.user_target_threshold",
		"brute_force_distributed":  "detectors.brute_force.settings.distributed_threshold",
		"brute_force_score_limit":  "detectors.brute_force.settings.score_limit",

		// Port-scan settings
		"port_scan_window":      "detectors.port_scan.settings.window_seconds",
		"port_scan_ports":       "detectors.port_scan.settings.port_threshold",
		"port_scan_attempts":    "detectors.port_scan.settings.attempt_threshold",
		"port_scan_score_limit": "detectors.port_scan.settings.score_limit",

		// VPN settings
		"vpn_score_limit":       "detectors.vpn.settings.score_limit",
		"vpn_switching_window":  "detectors.vpn.settings.switching_window_seconds",
		"vpn_switching_max_ips": "detectors.vpn.settings.switching_max_ips",
		"vpn_exit_nodes":        "detectors.vpn.settings.exit_nodes",
		"vpn_history_max_users": "detectors.vpn.settings.history_max_users",

		// Phishing settings
		"phishing_score_threshold": "detectors.phishing.settings.score_threshold",
		"phishing_keywords":        "detectors.phishing.settings.keywords",
		"phishing_tlds":            "detectors.phishing.settings.tlds",

		// Malware blocklist settings
		"malware_extensions": "detectors.malware.settings.extensions",
		"malware_markers":    "detectors.malware.settings.markers",

		// Anomaly model mappings
		"anomaly_model_path":         "anomaly.model_path",
		"anomaly_retrain_if_missing": "anomaly.retrain_if_missing",
		"anomaly_threshold":          "detectors.anomaly.settings.threshold",

		// NATS mappings
		"nats_enabled":     "nats.enabled",
		"nats_url":         "nats.url",
		"nats_subject":     "nats.subject",
		"nats_queue_group": "nats.queue_group",

		// Sink mappings
		"alert_ring_capacity":       "sinks.ring_capacity",
		"webhook_enabled":           "sinks.webhook_enabled",
		"webhook_url":               "sinks.webhook.url",
		"webhook_timeout":           "sinks.webhook.timeout_seconds",
		"webhook_failure_threshold": "sinks.webhook.failure_threshold",
		"webhook_open_seconds":      "sinks.webhook.open_seconds",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

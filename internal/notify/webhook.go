// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/threatline/threatline/internal/detection"
)

// WebhookConfig configures webhook alert delivery.
type WebhookConfig struct {
	// URL is the webhook endpoint. Empty disables the sink.
	URL string `koanf:"url"`

	// Headers are added to every request (authentication, routing).
	Headers map[string]string `koanf:"headers"`

	// TimeoutSeconds bounds each delivery attempt.
	TimeoutSeconds int `koanf:"timeout_seconds"`

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`

	// OpenSeconds is how long the breaker stays open before probing.
	OpenSeconds int `koanf:"open_seconds"`
}

// DefaultWebhookConfig returns production defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		TimeoutSeconds:   10,
		FailureThreshold: 5,
		OpenSeconds:      30,
	}
}

// WebhookPayload is the JSON body posted per alert.
type WebhookPayload struct {
	Alert     *detection.Alert `json:"alert"`
	EventType string           `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
}

// WebhookSink posts each alert to an HTTP endpoint. A circuit breaker
// sheds deliveries while the endpoint is down so a dead receiver cannot
// stall or backlog the engine.
type WebhookSink struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultWebhookConfig().TimeoutSeconds
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultWebhookConfig().FailureThreshold
	}
	if cfg.OpenSeconds <= 0 {
		cfg.OpenSeconds = DefaultWebhookConfig().OpenSeconds
	}

	settings := gobreaker.Settings{
		Name:    "alert-webhook",
		Timeout: time.Duration(cfg.OpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}

	return &WebhookSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Name identifies the sink in logs and metrics.
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Emit posts the alert to the configured endpoint through the breaker.
func (s *WebhookSink) Emit(ctx context.Context, alert *detection.Alert) error {
	if s.cfg.URL == "" {
		return nil
	}

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, alert)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, alert *detection.Alert) error {
	payload := WebhookPayload{
		Alert:     alert,
		EventType: "security_alert",
		Timestamp: time.Now(),
		Source:    "threatline",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState reports the circuit breaker state for diagnostics.
func (s *WebhookSink) BreakerState() string {
	return s.breaker.State().String()
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/threatline/threatline/internal/anomaly"
	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/engine"
	"github.com/threatline/threatline/internal/notify"
	"github.com/threatline/threatline/internal/state"
)

type fixedScorer struct{}

func (fixedScorer) Score(_ context.Context, _ anomaly.Features) (float64, bool, error) {
	return 0.1, false, nil
}

func newTestServer(t *testing.T) (*Server, *notify.RingSink) {
	t.Helper()

	ring := notify.NewRingSink(16)
	pool := engine.NewPool(engine.DefaultPoolConfig())

	loginIPs := state.NewStore()
	loginUsers := state.NewStore()
	scanIPs := state.NewStore()

	eng := engine.NewRouter(
		detection.NewBruteForceDetector(detection.DefaultBruteForceConfig(), loginIPs, loginUsers),
		detection.NewVPNDetector(detection.DefaultVPNConfig(), nil),
		detection.NewAnomalyDetector(detection.DefaultAnomalyConfig(), fixedScorer{}),
		detection.NewPhishingDetector(detection.DefaultPhishingConfig(), nil),
		detection.NewPortScanDetector(detection.DefaultPortScanConfig(), scanIPs),
		nil,
		ring,
		pool,
	)

	return New(Config{Host: "127.0.0.1", Port: 0}, eng, ring), ring
}

func TestIngestPhishingURL(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	body := `{"type":"url","url":"http://verify-login-update.xyz/confirm/account"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EventType != "url" {
		t.Errorf("event_type = %s, want url", resp.EventType)
	}
	if len(resp.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(resp.Outcomes))
	}
	if resp.Outcomes[0].Alert == nil {
		t.Error("expected phishing alert in outcome")
	}
}

func TestIngestBenignLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	body := `{"type":"login","ip":"8.8.4.4","username":"alice","success":true,"timestamp":1700000000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3 for login fan-out", len(resp.Outcomes))
	}
	for _, out := range resp.Outcomes {
		if out.Alert != nil {
			t.Errorf("benign login raised %s alert", out.Detector)
		}
	}
}

func TestIngestMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"type":`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"type":"smoke_signal"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAlertsFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	// Trigger one alert through the ingest path, then read it back.
	body := `{"type":"url","url":"http://verify-login-update.xyz/confirm/account"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Alerts []*detection.Alert `json:"alerts"`
		Count  int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Alerts) != 1 {
		t.Fatalf("count = %d, alerts = %d, want 1/1", resp.Count, len(resp.Alerts))
	}
	if resp.Alerts[0].Kind != detection.KindPhishing {
		t.Errorf("kind = %s, want %s", resp.Alerts[0].Kind, detection.KindPhishing)
	}
}

func TestAlertsFeedNoRing(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.ring = nil
	handler := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("body = %s, want empty feed", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.RateLimitReqs = 2
	srv.cfg.RateLimitWindow = time.Minute
	handler := srv.Routes()

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", last)
	}
}

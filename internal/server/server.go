// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package server exposes the HTTP ingest surface: event submission,
// the recent-alert feed, health, and Prometheus metrics.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/engine"
	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/notify"
)

// maxEventBytes bounds an event payload; HTML bodies for phishing checks
// can be large but not unbounded.
const maxEventBytes = 1 << 20

// Config holds the HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	Timeout         time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Server routes ingest requests to the triage engine.
type Server struct {
	cfg    Config
	engine *engine.Router
	ring   *notify.RingSink
}

// New creates the ingest server. ring may be nil when the alert feed is
// not wired; GET /api/v1/alerts then returns an empty list.
func New(cfg Config, eng *engine.Router, ring *notify.RingSink) *Server {
	return &Server{cfg: cfg, engine: eng, ring: ring}
}

// Routes builds the chi handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		}
		r.Post("/events", s.handleIngest)
		r.Get("/alerts", s.handleAlerts)
	})

	return r
}

// HTTPServer builds the net/http server around the handler tree.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}
}

// outcomeView is the wire form of an engine outcome; errors are
// flattened to strings.
type outcomeView struct {
	Detector string           `json:"detector"`
	Alert    *detection.Alert `json:"alert,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type ingestResponse struct {
	EventType event.Type    `json:"event_type"`
	Outcomes  []outcomeView `json:"outcomes"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	e, err := event.Decode(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcomes := s.engine.Process(r.Context(), e)

	views := make([]outcomeView, 0, len(outcomes))
	status := http.StatusOK
	for _, out := range outcomes {
		v := outcomeView{Detector: out.Detector, Alert: out.Alert}
		if out.Err != nil {
			v.Error = out.Err.Error()
			if errors.Is(out.Err, engine.ErrUnrecognizedType) {
				status = http.StatusBadRequest
			}
		}
		views = append(views, v)
	}

	respondJSON(w, status, ingestResponse{EventType: e.Type, Outcomes: views})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []*detection.Alert{}
	if s.ring != nil {
		alerts = s.ring.Recent()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

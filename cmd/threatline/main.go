// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Command threatline runs the triage engine: HTTP ingest, optional NATS
// ingest, the detector set, and alert delivery, all under a supervisor
// tree with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/threatline/threatline/internal/anomaly"
	"github.com/threatline/threatline/internal/config"
	"github.com/threatline/threatline/internal/detection"
	"github.com/threatline/threatline/internal/engine"
	"github.com/threatline/threatline/internal/ingest"
	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/malware"
	"github.com/threatline/threatline/internal/notify"
	"github.com/threatline/threatline/internal/respond"
	"github.com/threatline/threatline/internal/server"
	"github.com/threatline/threatline/internal/state"
	"github.com/threatline/threatline/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet, so the default logger reports this.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("addr", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Threatline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scoring model: load or train up front so the first login event does
	// not pay the initialization cost.
	scorer := anomaly.NewClient(cfg.Anomaly)
	if err := scorer.Warmup(ctx); err != nil {
		logging.Warn().Err(err).Msg("Anomaly model unavailable, anomaly detection degraded")
	}

	// Sliding-window state. Brute force keys two stores; port scan keys
	// its own so resets never interfere across detectors.
	loginIPs := state.NewStore()
	loginUsers := state.NewStore()
	scanIPs := state.NewStore()

	bruteForce := detection.NewBruteForceDetector(cfg.Detectors.BruteForce.Settings, loginIPs, loginUsers)
	bruteForce.SetEnabled(cfg.Detectors.BruteForce.Enabled)

	portScan := detection.NewPortScanDetector(cfg.Detectors.PortScan.Settings, scanIPs)
	portScan.SetEnabled(cfg.Detectors.PortScan.Enabled)

	vpn := detection.NewVPNDetector(cfg.Detectors.VPN.Settings, respond.NewLogResponder())
	vpn.SetEnabled(cfg.Detectors.VPN.Enabled)

	phishing := detection.NewPhishingDetector(cfg.Detectors.Phishing.Settings, respond.NewLogQuarantiner())
	phishing.SetEnabled(cfg.Detectors.Phishing.Enabled)

	anomalyDet := detection.NewAnomalyDetector(cfg.Detectors.Anomaly.Settings, scorer)
	anomalyDet.SetEnabled(cfg.Detectors.Anomaly.Enabled)

	var scanner engine.FileScanner
	if cfg.Detectors.Malware.Enabled {
		scanner = malware.NewBlocklist(cfg.Detectors.Malware.Settings)
	}

	// Alert delivery: every alert lands in the log and the in-memory
	// feed; webhook delivery is opt-in.
	ring := notify.NewRingSink(cfg.Sinks.RingCapacity)
	sinks := []detection.Sink{notify.NewLogSink(), ring}
	if cfg.Sinks.WebhookEnabled {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Sinks.Webhook))
	}
	fanout := notify.NewFanout(sinks...)

	pool := engine.NewPool(cfg.Workers)
	router := engine.NewRouter(bruteForce, vpn, anomalyDet, phishing, portScan, scanner, fanout, pool)

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Timeout:         cfg.Server.Timeout,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, router, ring)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(pool)
	if cfg.NATS.Enabled {
		tree.AddIngestService(ingest.NewSubscriber(ingest.Config{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
		}, router))
	}
	tree.AddAPIService(server.NewService(srv.HTTPServer(), cfg.Server.Timeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Threatline stopped")
}

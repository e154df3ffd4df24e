// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

// Package ingest provides the optional NATS event source. Events arrive
// as JSON payloads on a subject and feed the same triage path as HTTP
// ingest. A queue group spreads load across replicas.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/threatline/threatline/internal/engine"
	"github.com/threatline/threatline/internal/event"
	"github.com/threatline/threatline/internal/logging"
)

// Config holds NATS subscriber settings.
type Config struct {
	URL        string
	Subject    string
	QueueGroup string
}

// Subscriber consumes events from NATS and routes them through the
// triage engine. It is supervised: connection failures surface from
// Serve and the supervisor restarts with backoff.
type Subscriber struct {
	cfg    Config
	engine *engine.Router
}

// NewSubscriber creates a NATS subscriber feeding eng.
func NewSubscriber(cfg Config, eng *engine.Router) *Subscriber {
	return &Subscriber{cfg: cfg, engine: eng}
}

// Serve implements suture.Service. It connects, subscribes, and blocks
// until the context is canceled, then drains in-flight messages.
func (s *Subscriber) Serve(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
		s.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}

	logging.Info().
		Str("subject", s.cfg.Subject).
		Str("queue_group", s.cfg.QueueGroup).
		Msg("NATS ingest started")

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		logging.Warn().Err(err).Msg("NATS drain failed")
	}
	return ctx.Err()
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	e, err := event.Decode(data)
	if err != nil {
		logging.Warn().Err(err).Msg("Dropping undecodable NATS event")
		return
	}
	for _, out := range s.engine.Process(ctx, e) {
		if out.Err != nil {
			logging.Warn().
				Err(out.Err).
				Str("detector", out.Detector).
				Msg("Detector error on NATS event")
		}
	}
}

// String identifies the service in supervisor logs.
func (s *Subscriber) String() string {
	return "nats-ingest"
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// listener matches the *http.Server lifecycle methods so the service can
// be tested with a mock.
type listener interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service wraps the HTTP server as a supervised service, translating the
// blocking ListenAndServe pattern into suture's context-aware Serve.
type Service struct {
	server          listener
	shutdownTimeout time.Duration
}

// NewService wraps srv for supervision. shutdownTimeout bounds graceful
// shutdown; zero or negative falls back to 10s.
func NewService(srv *http.Server, shutdownTimeout time.Duration) *Service {
	return newService(srv, shutdownTimeout)
}

func newService(srv listener, shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Service{server: srv, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. It runs the listener until the
// context is canceled, then shuts down gracefully.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is canceled, so shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String identifies the service in supervisor logs.
func (s *Service) String() string {
	return "http-server"
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package engine

import (
	"context"
	"sync"

	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/metrics"
)

// Pool is a bounded worker pool for background detection work. The router
// submits fire-and-forget tasks to it instead of spawning a goroutine per
// event, which gives the queue a hard bound and makes saturation visible
// in metrics.
type Pool struct {
	tasks   chan func()
	workers int

	mu      sync.Mutex
	started bool
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	// Workers is the number of worker goroutines.
	Workers int `koanf:"workers"`

	// QueueSize is the task queue bound; submissions beyond it are dropped.
	QueueSize int `koanf:"queue_size"`
}

// DefaultPoolConfig returns production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:   8,
		QueueSize: 1024,
	}
}

// NewPool creates a worker pool. Workers start when Serve is called.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultPoolConfig().QueueSize
	}
	return &Pool{
		tasks:   make(chan func(), cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Submit enqueues a task without blocking. It returns false when the
// queue is full; the caller decides whether dropping is acceptable.
func (p *Pool) Submit(task func()) bool {
	select {
	case p.tasks <- task:
		metrics.WorkerQueueDepth.Set(float64(len(p.tasks)))
		return true
	default:
		metrics.BackgroundDropped.Inc()
		return false
	}
}

// Serve runs the workers until the context is canceled. It implements
// suture.Service so the pool can sit in the supervisor tree.
func (p *Pool) Serve(ctx context.Context) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			metrics.WorkerQueueDepth.Set(float64(len(p.tasks)))
			p.run(task, id)
		}
	}
}

// run executes one task, containing panics so a toxic task cannot take
// down the worker.
func (p *Pool) run(task func(), id int) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Int("worker", id).Interface("panic", r).Msg("background task panicked")
		}
	}()
	task()
}

// QueueDepth returns the current number of queued tasks.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// Threatline - Real-Time Security Telemetry Triage
// Copyright 2026 Threatline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/threatline/threatline

package state

import (
	"hash/fnv"
	"sync"
)

// numShards spreads unrelated keys across independent locks so detectors
// working on different entities never serialize on a global mutex.
const numShards = 64

// Store is a sharded, concurrency-safe map from entity key to Aggregate.
//
// Aggregates are created lazily on first access and live until an explicit
// Reset or process exit. The store is the only owner of aggregate records;
// all mutation happens inside per-key critical sections, so a reader never
// observes a half-updated or half-reset aggregate.
type Store struct {
	shards [numShards]shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	agg *Aggregate
}

// NewStore creates an empty entity state store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numShards
}

// getOrCreate returns the entry for key, creating an empty one on miss.
// The shard lock is held only for the lookup; the caller locks the entry.
func (s *Store) getOrCreate(key string) *entry {
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[key]; ok {
		return e
	}
	e = &entry{agg: newAggregate()}
	sh.entries[key] = e
	return e
}

// Update runs fn against the key's aggregate inside its critical section.
// The full read-mutate-prune-evaluate-reset sequence a detector performs in
// fn is observed atomically by every other caller of the same key.
// Operations on distinct keys proceed concurrently.
func (s *Store) Update(key string, fn func(agg *Aggregate)) {
	e := s.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.agg)
}

// Reset atomically clears the key's aggregate. A key that was never
// observed is a no-op.
func (s *Store) Reset(key string) {
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.agg.Reset()
	e.mu.Unlock()
}

// Prune applies window pruning to the key's aggregate without any other
// mutation. Missing keys are a no-op.
func (s *Store) Prune(key string, ref, window float64) {
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.agg.Prune(ref, window)
	e.mu.Unlock()
}

// Snapshot returns a copy of the key's aggregate, or nil if the key has
// never been observed. Intended for tests and diagnostics.
func (s *Store) Snapshot(key string) *Aggregate {
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cp := &Aggregate{
		Events:    append([]float64(nil), e.agg.Events...),
		Secondary: make(map[string]struct{}, len(e.agg.Secondary)),
		Score:     e.agg.Score,
	}
	for v := range e.agg.Secondary {
		cp.Secondary[v] = struct{}{}
	}
	return cp
}

// Len returns the number of tracked keys across all shards.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.RUnlock()
	}
	return n
}

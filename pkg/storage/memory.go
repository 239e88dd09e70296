// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"context"
	"sync"
)

// MemoryBackend is a process-local Backend for one resource family.
type MemoryBackend[K comparable, V any] struct {
	now TimestampProvider

	mu      sync.RWMutex
	entries map[K]Entry[V]
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	now TimestampProvider
}

// WithTimestampProvider overrides the clock used by Put.
func WithTimestampProvider(now TimestampProvider) MemoryOption {
	return func(c *memoryConfig) {
		c.now = now
	}
}

// NewMemory creates an empty in-memory backend.
func NewMemory[K comparable, V any](opts ...MemoryOption) *MemoryBackend[K, V] {
	cfg := memoryConfig{now: Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryBackend[K, V]{
		now:     cfg.now,
		entries: make(map[K]Entry[V]),
	}
}

// Get returns the entry for key, or nil when absent.
func (m *MemoryBackend[K, V]) Get(_ context.Context, key K) (*Entry[V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put stores value stamped with the current time.
func (m *MemoryBackend[K, V]) Put(ctx context.Context, key K, value V) error {
	return m.PutAt(ctx, key, value, m.now())
}

// PutAt stores value with an explicit store timestamp.
func (m *MemoryBackend[K, V]) PutAt(_ context.Context, key K, value V, storeTime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = Entry[V]{Value: value, StoreTime: storeTime}
	return nil
}

// Remove deletes the entry for key.
func (m *MemoryBackend[K, V]) Remove(_ context.Context, key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Clear deletes every entry.
func (m *MemoryBackend[K, V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[K]Entry[V])
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryBackend[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package cache implements the single-source-of-truth resource cache
// coordinator: per-key refresh state machines with single-flight fetching,
// a broadcast stream of loading/success/error transitions, pluggable
// storage, and staleness policies.
package cache

import (
	"context"
	"sync"

	"github.com/resourcecache/resourcecache/pkg/resource"
)

// Coordinator manages one resource family: a registry of per-key
// coordinators sharing a storage backend, fetcher, and staleness policy.
//
// Key coordinators are created lazily on first use and live until Remove or
// ClearAll. All methods are safe for concurrent use.
type Coordinator[K comparable, V any] struct {
	family string
	fetch  Fetch[K, V]
	cfg    config[K, V]

	keepLast bool

	mu   sync.Mutex
	keys map[K]*KeyCoordinator[K, V]
}

func newCoordinator[K comparable, V any](family string, fetch Fetch[K, V], cfg config[K, V], keepLastDefault bool) *Coordinator[K, V] {
	keepLast := keepLastDefault
	if cfg.keepLast != nil {
		keepLast = *cfg.keepLast
	}
	return &Coordinator[K, V]{
		family:   family,
		fetch:    fetch,
		cfg:      cfg,
		keepLast: keepLast,
		keys:     make(map[K]*KeyCoordinator[K, V]),
	}
}

// Family returns the family name (the storage name of the backend).
func (c *Coordinator[K, V]) Family() string { return c.family }

// forKey returns the key coordinator, creating it lazily.
func (c *Coordinator[K, V]) forKey(key K) *KeyCoordinator[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	kc, ok := c.keys[key]
	if !ok {
		kc = newKeyCoordinator(c.family, key, c.fetch, c.cfg, c.keepLast)
		c.keys[key] = kc
	}
	return kc
}

// Subscribe attaches an observer to key. See KeyCoordinator.Subscribe.
func (c *Coordinator[K, V]) Subscribe(ctx context.Context, key K, forceReload bool) (*Subscription[V], error) {
	return c.forKey(key).Subscribe(ctx, forceReload)
}

// Get returns the next settled resource for key. See KeyCoordinator.Get.
func (c *Coordinator[K, V]) Get(ctx context.Context, key K, opts GetOptions) (resource.Resource[V], error) {
	return c.forKey(key).Get(ctx, opts)
}

// Invalidate marks key's entry stale. See KeyCoordinator.Invalidate.
func (c *Coordinator[K, V]) Invalidate(ctx context.Context, key K, opts InvalidateOptions) error {
	return c.forKey(key).Invalidate(ctx, opts)
}

// Update edits key's cached value. See KeyCoordinator.Update.
func (c *Coordinator[K, V]) Update(ctx context.Context, key K, edit func(current *V) (*V, error), notifyOnNil bool) error {
	return c.forKey(key).Update(ctx, edit, notifyOnNil)
}

// CachedValue returns key's stored value. See KeyCoordinator.CachedValue.
func (c *Coordinator[K, V]) CachedValue(ctx context.Context, key K, synchronized bool) (*V, error) {
	return c.forKey(key).CachedValue(ctx, synchronized)
}

// Put stores value for key and emits Success. See KeyCoordinator.Put.
func (c *Coordinator[K, V]) Put(ctx context.Context, key K, value V) error {
	return c.forKey(key).Put(ctx, value)
}

// Remove closes key's coordinator, erases it from the registry, and deletes
// the stored entry.
func (c *Coordinator[K, V]) Remove(ctx context.Context, key K) error {
	c.mu.Lock()
	kc := c.keys[key]
	delete(c.keys, key)
	c.mu.Unlock()

	if kc != nil {
		kc.Close()
	}
	return c.cfg.store.Remove(ctx, key)
}

// ClearAll erases the registry and clears the family's storage. With
// closeSubscriptions set, every key coordinator is closed and its
// subscribers dropped; otherwise detached coordinators stay usable by
// subscribers already attached to them. Subscriber goroutines observing the
// close may call back into the coordinator freely.
func (c *Coordinator[K, V]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	c.mu.Lock()
	dropped := c.keys
	c.keys = make(map[K]*KeyCoordinator[K, V])
	c.mu.Unlock()

	if closeSubscriptions {
		for _, kc := range dropped {
			kc.Close()
		}
	}
	return c.cfg.store.Clear(ctx)
}

// Len returns the number of live key coordinators.
func (c *Coordinator[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

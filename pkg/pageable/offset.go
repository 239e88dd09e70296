// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package pageable

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/resourcecache/resourcecache/pkg/cache"
	"github.com/resourcecache/resourcecache/pkg/resource"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

// OffsetBundle is the bundle shape cached by the offset strategy; it
// carries no cursor and no meta.
type OffsetBundle[V comparable] = Bundle[V, struct{}]

// LoadPageByOffset fetches up to limit items starting at offset.
type LoadPageByOffset[K comparable, V comparable] func(ctx context.Context, key K, offset, limit int) ([]V, error)

// OffsetCoordinator pages through a list by offset, re-requesting the last
// intersectionCount items of every page so server-side changes under the
// loaded window surface as INCONSISTENT_PAGE_DATA instead of silently
// corrupting the list.
type OffsetCoordinator[K comparable, V comparable] struct {
	family       string
	load         LoadPageByOffset[K, V]
	pageSize     int
	intersection int
	logger       *slog.Logger

	inner   *cache.Coordinator[K, OffsetBundle[V]]
	loading atomic.Bool
}

// OffsetOption configures an OffsetCoordinator.
type OffsetOption[K comparable, V comparable] func(*offsetConfig[K, V])

type offsetConfig[K, V comparable] struct {
	logger    *slog.Logger
	cacheOpts []cache.Option[K, OffsetBundle[V]]
}

// WithOffsetLogger sets the pager logger.
func WithOffsetLogger[K comparable, V comparable](logger *slog.Logger) OffsetOption[K, V] {
	return func(c *offsetConfig[K, V]) {
		c.logger = logger
	}
}

// WithOffsetCacheOptions forwards options to the inner coordinator, for
// storage, staleness, clock, or logging overrides.
func WithOffsetCacheOptions[K comparable, V comparable](opts ...cache.Option[K, OffsetBundle[V]]) OffsetOption[K, V] {
	return func(c *offsetConfig[K, V]) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// NewOffset creates an offset-paging coordinator. pageSize must exceed
// intersectionCount, which must not be negative.
func NewOffset[K comparable, V comparable](family string, load LoadPageByOffset[K, V], pageSize, intersectionCount int, opts ...OffsetOption[K, V]) (*OffsetCoordinator[K, V], error) {
	if intersectionCount < 0 || pageSize <= intersectionCount {
		return nil, oops.Code("INVALID_PAGE_CONFIG").
			With("page_size", pageSize).
			With("intersection_count", intersectionCount).
			Errorf("pageSize must be greater than intersectionCount, which must be non-negative")
	}

	cfg := offsetConfig[K, V]{logger: storage.DefaultLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &OffsetCoordinator[K, V]{
		family:       family,
		load:         load,
		pageSize:     pageSize,
		intersection: intersectionCount,
		logger:       cfg.logger.With("family", family),
	}
	c.inner = cache.New(family, c.loadFirstPage, cfg.cacheOpts...)
	return c, nil
}

// Subscribe attaches an observer to key's bundle stream.
func (c *OffsetCoordinator[K, V]) Subscribe(ctx context.Context, key K, forceReload bool) (*cache.Subscription[OffsetBundle[V]], error) {
	return c.inner.Subscribe(ctx, key, forceReload)
}

// Get returns the next settled bundle resource for key.
func (c *OffsetCoordinator[K, V]) Get(ctx context.Context, key K, opts cache.GetOptions) (resource.Resource[OffsetBundle[V]], error) {
	return c.inner.Get(ctx, key, opts)
}

// Invalidate marks key's bundle stale; the next refresh refetches the first
// page and drops all later pages unless the cache can be reused.
func (c *OffsetCoordinator[K, V]) Invalidate(ctx context.Context, key K, opts cache.InvalidateOptions) error {
	return c.inner.Invalidate(ctx, key, opts)
}

// CachedBundle returns key's cached bundle, or nil when absent.
func (c *OffsetCoordinator[K, V]) CachedBundle(ctx context.Context, key K) (*OffsetBundle[V], error) {
	return c.inner.CachedValue(ctx, key, true)
}

// Remove drops key's coordinator and cached bundle.
func (c *OffsetCoordinator[K, V]) Remove(ctx context.Context, key K) error {
	return c.inner.Remove(ctx, key)
}

// ClearAll drops every key and clears storage.
func (c *OffsetCoordinator[K, V]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	return c.inner.ClearAll(ctx, closeSubscriptions)
}

// LoadNextPage fetches the next page and merges it into the cached bundle.
// Concurrent calls are rejected with PAGE_LOAD_IN_FLIGHT; a call after the
// list is exhausted is a no-op. An overlap mismatch with the cached tail
// returns INCONSISTENT_PAGE_DATA and leaves the bundle unchanged.
func (c *OffsetCoordinator[K, V]) LoadNextPage(ctx context.Context, key K) error {
	if !c.loading.CompareAndSwap(false, true) {
		return errLoadInFlight(c.family)
	}
	defer c.loading.Store(false)

	res, err := c.inner.Get(ctx, key, cache.GetOptions{})
	if err != nil {
		return err
	}
	current := res.Data
	if current != nil && current.LoadedAll {
		c.logger.Debug("all pages loaded, skipping next-page load")
		return nil
	}

	loaded := 0
	if current != nil {
		loaded = len(current.Items)
	}
	offset := max(0, loaded-c.intersection)
	expectedOverlap := c.intersection
	if offset == 0 {
		expectedOverlap = loaded
	}

	page, err := c.load(ctx, key, offset, c.pageSize)
	if err != nil {
		return err
	}

	return c.inner.Update(ctx, key, func(old *OffsetBundle[V]) (*OffsetBundle[V], error) {
		var oldItems []V
		if old != nil {
			oldItems = old.Items
		}

		if expectedOverlap > 0 {
			if len(page) < expectedOverlap || len(oldItems) < expectedOverlap {
				return nil, errInconsistentPageData(c.family, "page shorter than expected overlap")
			}
			tail := oldItems[len(oldItems)-expectedOverlap:]
			for i := range tail {
				if page[i] != tail[i] {
					return nil, errInconsistentPageData(c.family, "overlap mismatch with cached tail")
				}
			}
		}

		items := make([]V, 0, len(oldItems)+len(page)-expectedOverlap)
		items = append(items, oldItems...)
		items = append(items, page[expectedOverlap:]...)
		return &OffsetBundle[V]{Items: items, LoadedAll: len(page) < c.pageSize}, nil
	}, false)
}

// loadFirstPage is the inner coordinator's fetcher. When the cached bundle
// still starts with the freshly fetched first page, the whole bundle is
// reused so pages loaded before an invalidation survive the refresh.
func (c *OffsetCoordinator[K, V]) loadFirstPage(ctx context.Context, key K) (OffsetBundle[V], error) {
	page, err := c.load(ctx, key, 0, c.pageSize)
	if err != nil {
		return OffsetBundle[V]{}, err
	}

	cached, cerr := c.inner.CachedValue(ctx, key, false)
	if cerr == nil && cached != nil && c.canReuse(cached.Items, page) {
		c.logger.Debug("first page unchanged, reusing cached bundle", "items", len(cached.Items))
		return *cached, nil
	}
	return OffsetBundle[V]{Items: page, LoadedAll: len(page) < c.pageSize}, nil
}

// canReuse reports whether the cached items still start with the fresh
// first page. A short page only matches a cache that ends with it.
func (c *OffsetCoordinator[K, V]) canReuse(cachedItems, page []V) bool {
	if len(cachedItems) < len(page) {
		return false
	}
	if len(page) < c.pageSize && len(cachedItems) != len(page) {
		return false
	}
	for i := range page {
		if cachedItems[i] != page[i] {
			return false
		}
	}
	return true
}

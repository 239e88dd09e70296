// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package pageable

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/resourcecache/resourcecache/pkg/cache"
	"github.com/resourcecache/resourcecache/pkg/resource"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

// LoadPageBySize fetches one origin page; page numbering starts at 1.
type LoadPageBySize[K comparable, V comparable, M any] func(ctx context.Context, key K, page, size int) (PageResponse[V, M], error)

// SizeCoordinator pages through a list with an explicit page cursor
// persisted in the bundle. Exhaustion is detected by a short page, which
// clears the cursor.
type SizeCoordinator[K comparable, V comparable, M any] struct {
	family   string
	load     LoadPageBySize[K, V, M]
	pageSize int
	logger   *slog.Logger

	detectDuplicates bool
	checkConsistency func(old *Bundle[V, M], response PageResponse[V, M]) error
	buildMeta        func(old *Bundle[V, M], response PageResponse[V, M]) *M
	canReuseCache    func(cached Bundle[V, M], first PageResponse[V, M]) bool

	inner   *cache.Coordinator[K, Bundle[V, M]]
	loading atomic.Bool
}

// SizeOption configures a SizeCoordinator.
type SizeOption[K comparable, V comparable, M any] func(*sizeConfig[K, V, M])

type sizeConfig[K comparable, V comparable, M any] struct {
	logger           *slog.Logger
	detectDuplicates bool
	checkConsistency func(old *Bundle[V, M], response PageResponse[V, M]) error
	buildMeta        func(old *Bundle[V, M], response PageResponse[V, M]) *M
	canReuseCache    func(cached Bundle[V, M], first PageResponse[V, M]) bool
	cacheOpts        []cache.Option[K, Bundle[V, M]]
}

// WithSizeLogger sets the pager logger.
func WithSizeLogger[K comparable, V comparable, M any](logger *slog.Logger) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.logger = logger
	}
}

// WithDuplicateDetection toggles the disjointness check between the cached
// items and each new page. Enabled by default.
func WithDuplicateDetection[K comparable, V comparable, M any](enabled bool) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.detectDuplicates = enabled
	}
}

// WithConsistencyCheck installs an extra validation hook run before each
// new page is merged; an error aborts the merge and propagates.
func WithConsistencyCheck[K comparable, V comparable, M any](fn func(old *Bundle[V, M], response PageResponse[V, M]) error) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.checkConsistency = fn
	}
}

// WithMetaBuilder installs the hook deriving the merged bundle's meta from
// the cached bundle and the new page. Without it merged bundles carry no
// meta.
func WithMetaBuilder[K comparable, V comparable, M any](fn func(old *Bundle[V, M], response PageResponse[V, M]) *M) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.buildMeta = fn
	}
}

// WithCacheReuse installs the predicate deciding whether a refetched first
// page allows reusing the whole cached bundle. Without it a refresh always
// rebuilds from the first page.
func WithCacheReuse[K comparable, V comparable, M any](fn func(cached Bundle[V, M], first PageResponse[V, M]) bool) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.canReuseCache = fn
	}
}

// WithSizeCacheOptions forwards options to the inner coordinator.
func WithSizeCacheOptions[K comparable, V comparable, M any](opts ...cache.Option[K, Bundle[V, M]]) SizeOption[K, V, M] {
	return func(c *sizeConfig[K, V, M]) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// NewSize creates a page+size coordinator. pageSize must be at least 1.
func NewSize[K comparable, V comparable, M any](family string, load LoadPageBySize[K, V, M], pageSize int, opts ...SizeOption[K, V, M]) (*SizeCoordinator[K, V, M], error) {
	if pageSize < 1 {
		return nil, oops.Code("INVALID_PAGE_CONFIG").
			With("page_size", pageSize).
			Errorf("pageSize must be at least 1")
	}

	cfg := sizeConfig[K, V, M]{
		logger:           storage.DefaultLogger(),
		detectDuplicates: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &SizeCoordinator[K, V, M]{
		family:           family,
		load:             load,
		pageSize:         pageSize,
		logger:           cfg.logger.With("family", family),
		detectDuplicates: cfg.detectDuplicates,
		checkConsistency: cfg.checkConsistency,
		buildMeta:        cfg.buildMeta,
		canReuseCache:    cfg.canReuseCache,
	}
	c.inner = cache.New(family, c.loadFirstPage, cfg.cacheOpts...)
	return c, nil
}

// Subscribe attaches an observer to key's bundle stream.
func (c *SizeCoordinator[K, V, M]) Subscribe(ctx context.Context, key K, forceReload bool) (*cache.Subscription[Bundle[V, M]], error) {
	return c.inner.Subscribe(ctx, key, forceReload)
}

// Get returns the next settled bundle resource for key.
func (c *SizeCoordinator[K, V, M]) Get(ctx context.Context, key K, opts cache.GetOptions) (resource.Resource[Bundle[V, M]], error) {
	return c.inner.Get(ctx, key, opts)
}

// Invalidate marks key's bundle stale.
func (c *SizeCoordinator[K, V, M]) Invalidate(ctx context.Context, key K, opts cache.InvalidateOptions) error {
	return c.inner.Invalidate(ctx, key, opts)
}

// CachedBundle returns key's cached bundle, or nil when absent.
func (c *SizeCoordinator[K, V, M]) CachedBundle(ctx context.Context, key K) (*Bundle[V, M], error) {
	return c.inner.CachedValue(ctx, key, true)
}

// Remove drops key's coordinator and cached bundle.
func (c *SizeCoordinator[K, V, M]) Remove(ctx context.Context, key K) error {
	return c.inner.Remove(ctx, key)
}

// ClearAll drops every key and clears storage.
func (c *SizeCoordinator[K, V, M]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	return c.inner.ClearAll(ctx, closeSubscriptions)
}

// LoadNextPage fetches the page under the persisted cursor and merges it
// into the cached bundle. Concurrent calls are rejected with
// PAGE_LOAD_IN_FLIGHT. If the bundle changed while the page was being
// fetched, the page is discarded: the concurrent update wins.
func (c *SizeCoordinator[K, V, M]) LoadNextPage(ctx context.Context, key K) error {
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

	nextPage := 1
	if current != nil && current.NextPage != nil {
		nextPage = *current.NextPage
	}

	response, err := c.load(ctx, key, nextPage, c.pageSize)
	if err != nil {
		return err
	}

	return c.inner.Update(ctx, key, func(old *Bundle[V, M]) (*Bundle[V, M], error) {
		if !reflect.DeepEqual(old, current) {
			c.logger.Debug("bundle changed during page load, discarding page", "page", nextPage)
			return old, nil
		}

		var oldItems []V
		if old != nil {
			oldItems = old.Items
		}
		if c.detectDuplicates && len(lo.Intersect(oldItems, response.Items)) > 0 {
			return nil, errInconsistentPageData(c.family, "new page duplicates cached items")
		}
		if c.checkConsistency != nil {
			if cerr := c.checkConsistency(old, response); cerr != nil {
				return nil, cerr
			}
		}

		var meta *M
		if c.buildMeta != nil {
			meta = c.buildMeta(old, response)
		}

		loadedAll := len(response.Items) < c.pageSize
		var cursor *int
		if !loadedAll {
			n := nextPage + 1
			cursor = &n
		}

		items := make([]V, 0, len(oldItems)+len(response.Items))
		items = append(items, oldItems...)
		items = append(items, response.Items...)
		return &Bundle[V, M]{Items: items, LoadedAll: loadedAll, NextPage: cursor, Meta: meta}, nil
	}, false)
}

// loadFirstPage is the inner coordinator's fetcher. The reuse predicate is
// pluggable; by default a refresh always rebuilds from the first page.
func (c *SizeCoordinator[K, V, M]) loadFirstPage(ctx context.Context, key K) (Bundle[V, M], error) {
	response, err := c.load(ctx, key, 1, c.pageSize)
	if err != nil {
		return Bundle[V, M]{}, err
	}

	cached, cerr := c.inner.CachedValue(ctx, key, false)
	if cerr == nil && cached != nil && c.canReuseCache != nil && c.canReuseCache(*cached, response) {
		c.logger.Debug("reusing cached bundle after refetch", "items", len(cached.Items))
		return *cached, nil
	}

	loadedAll := len(response.Items) < c.pageSize
	var cursor *int
	if !loadedAll {
		n := 2
		cursor = &n
	}
	return Bundle[V, M]{Items: response.Items, LoadedAll: loadedAll, NextPage: cursor, Meta: response.Meta}, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/resourcecache/resourcecache/pkg/staleness"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

// Fetch loads the authoritative value for a key from the origin. A nil
// Fetch turns the family into a pure cache: subscriptions emit whatever the
// store holds.
type Fetch[K comparable, V any] func(ctx context.Context, key K) (V, error)

// GetOptions adjust a single Get call.
type GetOptions struct {
	// ForceReload requests a refresh even when the cached entry is fresh.
	ForceReload bool

	// AllowLoading lets Get return a loading resource as long as it
	// carries data, instead of waiting for the refresh to settle.
	AllowLoading bool
}

// InvalidateOptions adjust a single Invalidate call.
type InvalidateOptions struct {
	// Reload triggers an immediate refresh when the key has at least one
	// active subscriber, and waits for it to settle.
	Reload bool

	// EmitLoading broadcasts Loading(lastEmitted) before the reload.
	EmitLoading bool
}

// Option configures a Coordinator at construction time.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	store        storage.Backend[K, V]
	policy       staleness.Policy[K, V]
	logger       *slog.Logger
	now          storage.TimestampProvider
	keepLast     *bool
	retryMax     uint64
	retryInitial time.Duration
	decode       storage.DecodeFunc[V]
	keyFunc      storage.KeyFunc[K]
}

// WithStorage overrides the backend the family stores entries in.
func WithStorage[K comparable, V any](backend storage.Backend[K, V]) Option[K, V] {
	return func(c *config[K, V]) {
		c.store = backend
	}
}

// WithStaleness sets the staleness policy. The default is staleness.Never:
// cached values are refreshed only on invalidation or forced reloads.
func WithStaleness[K comparable, V any](policy staleness.Policy[K, V]) Option[K, V] {
	return func(c *config[K, V]) {
		c.policy = policy
	}
}

// WithCacheDuration is shorthand for WithStaleness(staleness.MaxAge(d)).
func WithCacheDuration[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *config[K, V]) {
		c.policy = staleness.MaxAge[K, V](d)
	}
}

// WithLogger sets the family logger. Defaults to the process-wide logger
// registered via storage.Configure, or a discard logger.
func WithLogger[K comparable, V any](logger *slog.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		c.logger = logger
	}
}

// WithTimestamp overrides the clock used for store timestamps and staleness
// checks. Intended for deterministic tests.
func WithTimestamp[K comparable, V any](now storage.TimestampProvider) Option[K, V] {
	return func(c *config[K, V]) {
		c.now = now
	}
}

// WithKeepLastEmitted controls the per-key in-memory slot holding the last
// emitted value. Enabled by default; disabled for secure families so
// secrets do not linger in process memory after emission.
func WithKeepLastEmitted[K comparable, V any](keep bool) Option[K, V] {
	return func(c *config[K, V]) {
		c.keepLast = &keep
	}
}

// WithFetchRetry retries failed fetches with exponential backoff starting
// at initial, up to maxRetries additional attempts.
func WithFetchRetry[K comparable, V any](maxRetries uint64, initial time.Duration) Option[K, V] {
	return func(c *config[K, V]) {
		c.retryMax = maxRetries
		c.retryInitial = initial
	}
}

// WithDecodeFunc overrides how persistent families decode stored raw JSON.
func WithDecodeFunc[K comparable, V any](fn storage.DecodeFunc[V]) Option[K, V] {
	return func(c *config[K, V]) {
		c.decode = fn
	}
}

// WithKeyEncoding overrides how persistent families encode keys as strings.
func WithKeyEncoding[K comparable, V any](fn storage.KeyFunc[K]) Option[K, V] {
	return func(c *config[K, V]) {
		c.keyFunc = fn
	}
}

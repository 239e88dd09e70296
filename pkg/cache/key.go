// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/resourcecache/resourcecache/pkg/errutil"
	"github.com/resourcecache/resourcecache/pkg/resource"
	"github.com/resourcecache/resourcecache/pkg/staleness"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

// KeyCoordinator drives the refresh state machine for a single key: it
// serialises storage access, broadcasts resource transitions to any number
// of subscribers, and guarantees at most one origin fetch in flight.
//
// A KeyCoordinator is created lazily by its Coordinator and closed when the
// key is removed or the family is cleared with closeSubscriptions.
type KeyCoordinator[K comparable, V any] struct {
	family   string
	key      K
	store    storage.Backend[K, V]
	fetch    Fetch[K, V]
	policy   staleness.Policy[K, V]
	now      storage.TimestampProvider
	logger   *slog.Logger
	keepLast bool

	retryMax     uint64
	retryInitial time.Duration

	// ctx bounds background refreshes; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises storage mutation, state transitions, and broadcast.
	// Subscriber delivery is asynchronous, so no user callback ever runs
	// under it.
	mu           sync.Mutex
	subs         map[ulid.ULID]*Subscription[V]
	lastEmitted  *V
	isLoading    bool
	shouldReload bool
	closed       bool
}

func newKeyCoordinator[K comparable, V any](family string, key K, fetch Fetch[K, V], cfg config[K, V], keepLast bool) *KeyCoordinator[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &KeyCoordinator[K, V]{
		family:       family,
		key:          key,
		store:        cfg.store,
		fetch:        fetch,
		policy:       cfg.policy,
		now:          cfg.now,
		logger:       cfg.logger.With("family", family, "key", fmt.Sprint(key)),
		keepLast:     keepLast,
		retryMax:     cfg.retryMax,
		retryInitial: cfg.retryInitial,
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[ulid.ULID]*Subscription[V]),
	}
}

// Key returns the key this coordinator serves.
func (kc *KeyCoordinator[K, V]) Key() K { return kc.key }

// Subscribe attaches a new observer. The subscription immediately receives
// a synthetic Loading carrying the last emitted value, then live emissions
// with consecutive duplicates suppressed. A refresh is requested on every
// subscribe; forceReload makes it bypass the staleness check.
//
// Cancelling ctx cancels the subscription.
func (kc *KeyCoordinator[K, V]) Subscribe(ctx context.Context, forceReload bool) (*Subscription[V], error) {
	kc.mu.Lock()
	if kc.closed {
		kc.mu.Unlock()
		return nil, kc.closedErr()
	}

	var sub *Subscription[V]
	sub = newSubscription[V](func() {
		kc.dropSubscription(sub)
	})
	kc.subs[sub.id] = sub
	sub.push(resource.Loading(kc.lastEmitted))
	kc.mu.Unlock()

	ActiveSubscriptions.WithLabelValues(kc.family).Inc()
	kc.logger.Debug("subscription attached", "subscription_id", sub.id.String(), "force_reload", forceReload)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Cancel()
			case <-sub.done:
			}
		}()
	}

	go kc.requestLoad(forceReload)
	return sub, nil
}

// Get waits for the next settled resource: the first emission that is not
// Loading, or any emission carrying data when AllowLoading is set.
func (kc *KeyCoordinator[K, V]) Get(ctx context.Context, opts GetOptions) (resource.Resource[V], error) {
	var zero resource.Resource[V]

	sub, err := kc.Subscribe(ctx, opts.ForceReload)
	if err != nil {
		return zero, err
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return zero, oops.Code("GET_CANCELLED").
				With("family", kc.family).
				Wrap(ctx.Err())
		case r, ok := <-sub.Events():
			if !ok {
				return zero, kc.closedErr()
			}
			if !r.IsLoading() || (opts.AllowLoading && r.Data != nil) {
				return r, nil
			}
		}
	}
}

// Invalidate marks the stored entry stale by rewriting its store time to
// zero, preserving the value. With Reload set and at least one active
// subscriber, it triggers a forced refresh and waits for it to settle.
func (kc *KeyCoordinator[K, V]) Invalidate(ctx context.Context, opts InvalidateOptions) error {
	kc.mu.Lock()
	if kc.closed {
		kc.mu.Unlock()
		return kc.closedErr()
	}

	entry, err := kc.store.Get(ctx, kc.key)
	switch {
	case err != nil:
		// The entry cannot be decoded, so its value cannot be rewritten.
		// Removing it forces the same reload an invalidation would.
		errutil.Log(kc.logger, slog.LevelError, "removing undecodable entry on invalidate", err)
		if rerr := kc.store.Remove(ctx, kc.key); rerr != nil {
			kc.mu.Unlock()
			return rerr
		}
	case entry != nil:
		if perr := kc.store.PutAt(ctx, kc.key, entry.Value, 0); perr != nil {
			kc.mu.Unlock()
			return perr
		}
	}

	if opts.EmitLoading {
		kc.broadcast(resource.Loading(kc.lastEmitted))
	}
	hasSubscribers := len(kc.subs) > 0
	kc.mu.Unlock()

	if !opts.Reload || !hasSubscribers {
		return nil
	}
	_, err = kc.Get(ctx, GetOptions{ForceReload: true})
	return err
}

// Update edits the cached value under the key lock. A non-nil result is
// written back with the original store time preserved, so an edit does not
// refresh staleness, and emitted as Success. A nil result removes the entry
// and, when notifyOnNil is set, emits Success(nil). An error from edit
// aborts without writing.
func (kc *KeyCoordinator[K, V]) Update(ctx context.Context, edit func(current *V) (*V, error), notifyOnNil bool) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.closed {
		return kc.closedErr()
	}

	entry, err := kc.store.Get(ctx, kc.key)
	if err != nil {
		return err
	}

	var current *V
	var storeTime int64
	if entry != nil {
		v := entry.Value
		current = &v
		storeTime = entry.StoreTime
	}

	updated, err := edit(current)
	if err != nil {
		return err
	}

	if updated != nil {
		if perr := kc.store.PutAt(ctx, kc.key, *updated, storeTime); perr != nil {
			return perr
		}
		kc.broadcast(resource.Success(updated))
		return nil
	}

	if entry == nil {
		return nil
	}
	if rerr := kc.store.Remove(ctx, kc.key); rerr != nil {
		return rerr
	}
	if kc.keepLast {
		kc.lastEmitted = nil
	}
	if notifyOnNil {
		kc.broadcast(resource.Success[V](nil))
	}
	return nil
}

// CachedValue returns the stored value, or nil when absent. With
// synchronized set, the read happens under the key lock and so observes any
// in-progress Update or Put completed; fetchers and edit callbacks must
// pass false.
func (kc *KeyCoordinator[K, V]) CachedValue(ctx context.Context, synchronized bool) (*V, error) {
	if synchronized {
		kc.mu.Lock()
		defer kc.mu.Unlock()
	}

	entry, err := kc.store.Get(ctx, kc.key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	v := entry.Value
	return &v, nil
}

// Put writes value to storage stamped with the current time and emits
// Success. Explicit writes always emit, so they are observable even when
// the value is unchanged.
func (kc *KeyCoordinator[K, V]) Put(ctx context.Context, value V) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.closed {
		return kc.closedErr()
	}
	if err := kc.store.PutAt(ctx, kc.key, value, kc.now()); err != nil {
		return err
	}
	v := value
	kc.broadcast(resource.Success(&v))
	return nil
}

// ClearCache removes the stored entry and forgets the last emitted value.
// Nothing is emitted.
func (kc *KeyCoordinator[K, V]) ClearCache(ctx context.Context) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.closed {
		return kc.closedErr()
	}
	if err := kc.store.Remove(ctx, kc.key); err != nil {
		return err
	}
	kc.lastEmitted = nil
	return nil
}

// Close shuts the coordinator down: subscriptions are dropped, in-flight
// fetch results are discarded, and future operations fail with
// COORDINATOR_CLOSED.
func (kc *KeyCoordinator[K, V]) Close() {
	kc.mu.Lock()
	if kc.closed {
		kc.mu.Unlock()
		return
	}
	kc.closed = true
	subs := kc.subs
	kc.subs = nil
	kc.mu.Unlock()

	kc.cancel()
	for _, sub := range subs {
		sub.close()
	}
	ActiveSubscriptions.WithLabelValues(kc.family).Sub(float64(len(subs)))
	kc.logger.Debug("key coordinator closed", "dropped_subscriptions", len(subs))
}

// requestLoad runs the refresh state machine. Repeated invalidations while
// a refresh is in flight latch shouldReload, so rapid concurrent demand
// coalesces into at most one extra refresh epoch.
func (kc *KeyCoordinator[K, V]) requestLoad(forceReload bool) {
	kc.mu.Lock()
	if kc.closed {
		kc.mu.Unlock()
		return
	}
	if forceReload {
		kc.shouldReload = true
	}
	if kc.isLoading {
		kc.mu.Unlock()
		return
	}
	kc.isLoading = true
	kc.mu.Unlock()

	for {
		if kc.fetch == nil {
			kc.loadFromCache()
		} else {
			kc.loadFromOrigin()
		}

		kc.mu.Lock()
		if kc.shouldReload && !kc.closed {
			kc.mu.Unlock()
			continue
		}
		kc.isLoading = false
		kc.mu.Unlock()
		return
	}
}

// loadFromCache serves families without a fetcher: whatever the store holds
// is the authoritative value.
func (kc *KeyCoordinator[K, V]) loadFromCache() {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	kc.shouldReload = false
	entry, err := kc.store.Get(kc.ctx, kc.key)
	if err != nil {
		errutil.Log(kc.logger, slog.LevelError, "failed to read cached entry", err)
		kc.broadcast(resource.Failure[V](nil, err.Error(), err))
		return
	}

	var value *V
	if entry != nil {
		v := entry.Value
		value = &v
	}
	kc.broadcast(resource.Success(value))
}

// loadFromOrigin implements one refresh epoch: read the cache, emit Loading
// when the subscriber-visible value differs, serve fresh entries without an
// origin call, otherwise fetch, persist, and emit.
func (kc *KeyCoordinator[K, V]) loadFromOrigin() {
	kc.mu.Lock()

	entry, decodeFailed := kc.readEntry()
	var cached *V
	if entry != nil {
		v := entry.Value
		cached = &v
	}

	if !reflect.DeepEqual(kc.lastEmitted, cached) {
		kc.broadcast(resource.Loading(cached))
	}

	// A zero store time marks an invalidated entry; it needs the origin
	// regardless of what the staleness policy says.
	needsOrigin := kc.shouldReload || decodeFailed ||
		(entry != nil && (entry.StoreTime <= 0 || kc.policy.IsStale(kc.key, *entry, time.UnixMilli(kc.now()))))
	kc.shouldReload = false

	if entry != nil && !needsOrigin {
		HitTotal.WithLabelValues(kc.family).Inc()
		kc.broadcast(resource.Success(cached))
		kc.mu.Unlock()
		return
	}
	kc.mu.Unlock()

	value, err := kc.doFetch()

	kc.mu.Lock()
	defer kc.mu.Unlock()
	if kc.closed {
		return
	}

	if err != nil {
		FetchTotal.WithLabelValues(kc.family, fetchResultError).Inc()
		errutil.Log(kc.logger, slog.LevelWarn, "origin fetch failed", err)
		kc.broadcast(resource.Failure(cached, err.Error(), err))
		return
	}
	FetchTotal.WithLabelValues(kc.family, fetchResultOK).Inc()

	if perr := kc.store.PutAt(kc.ctx, kc.key, value, kc.now()); perr != nil {
		errutil.Log(kc.logger, slog.LevelError, "failed to persist fetched value", perr)
		kc.broadcast(resource.Failure(cached, perr.Error(), perr))
		return
	}
	v := value
	kc.broadcast(resource.Success(&v))
}

// readEntry reads the cached entry under the key lock. Decode failures are
// logged and treated as a cache miss that always needs the origin, so the
// following fetch overwrites the corrupt entry.
func (kc *KeyCoordinator[K, V]) readEntry() (entry *storage.Entry[V], decodeFailed bool) {
	entry, err := kc.store.Get(kc.ctx, kc.key)
	if err != nil {
		errutil.Log(kc.logger, slog.LevelError, "failed to decode cached entry", err)
		return nil, true
	}
	return entry, false
}

// doFetch invokes the fetcher outside the key lock, optionally retrying
// with exponential backoff.
func (kc *KeyCoordinator[K, V]) doFetch() (V, error) {
	if kc.retryMax == 0 {
		return kc.fetch(kc.ctx, kc.key)
	}

	var value V
	backoff := retry.WithMaxRetries(kc.retryMax, retry.NewExponential(kc.retryInitial))
	attempt := 0
	err := retry.Do(kc.ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, ferr := kc.fetch(ctx, kc.key)
		if ferr != nil {
			kc.logger.Debug("fetch failed, will retry", "attempt", attempt, "error", ferr)
			return retry.RetryableError(ferr)
		}
		value = v
		return nil
	})
	return value, err
}

// broadcast pushes an event to every subscriber and refreshes the
// last-emitted slot. Callers hold kc.mu.
func (kc *KeyCoordinator[K, V]) broadcast(r resource.Resource[V]) {
	if kc.keepLast {
		if r.Data != nil {
			kc.lastEmitted = r.Data
		} else if r.IsSuccess() {
			kc.lastEmitted = nil
		}
	}
	for _, sub := range kc.subs {
		sub.push(r)
	}
}

func (kc *KeyCoordinator[K, V]) dropSubscription(sub *Subscription[V]) {
	kc.mu.Lock()
	if kc.subs != nil {
		if _, ok := kc.subs[sub.id]; ok {
			delete(kc.subs, sub.id)
			ActiveSubscriptions.WithLabelValues(kc.family).Dec()
		}
	}
	kc.mu.Unlock()
}

func (kc *KeyCoordinator[K, V]) closedErr() error {
	return oops.Code("COORDINATOR_CLOSED").
		With("family", kc.family).
		With("key", fmt.Sprint(kc.key)).
		Errorf("coordinator is closed")
}

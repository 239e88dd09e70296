// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package staleness decides when a cached entry must be refreshed from its
// origin.
//
// A policy is a pure predicate over (key, entry, now). Entries whose store
// time is zero or negative were explicitly invalidated and must be treated
// as stale by every policy except Never.
package staleness

import (
	"time"

	"github.com/resourcecache/resourcecache/pkg/storage"
)

// Policy reports whether a cached entry is stale and must be refetched.
type Policy[K comparable, V any] interface {
	IsStale(key K, entry storage.Entry[V], now time.Time) bool
}

// Func adapts a plain predicate into a Policy. The predicate owns the full
// contract, including treating non-positive store times as stale.
type Func[K comparable, V any] func(key K, entry storage.Entry[V], now time.Time) bool

// IsStale calls the predicate.
func (f Func[K, V]) IsStale(key K, entry storage.Entry[V], now time.Time) bool {
	return f(key, entry, now)
}

// Never returns a policy under which cached entries never go stale.
func Never[K comparable, V any]() Policy[K, V] {
	return Func[K, V](func(K, storage.Entry[V], time.Time) bool {
		return false
	})
}

// MaxAge returns a policy under which an entry is stale once it is older
// than d, or when its store time is non-positive.
func MaxAge[K comparable, V any](d time.Duration) Policy[K, V] {
	return Func[K, V](func(_ K, entry storage.Entry[V], now time.Time) bool {
		if entry.StoreTime <= 0 {
			return true
		}
		return entry.StoreTime < now.UnixMilli()-d.Milliseconds()
	})
}

// Resolve returns a policy that picks another policy per call, so different
// keys (or values) can age differently within one family. The resolver must
// not return the Resolve policy itself.
func Resolve[K comparable, V any](resolve func(key K, entry storage.Entry[V]) Policy[K, V]) Policy[K, V] {
	return Func[K, V](func(key K, entry storage.Entry[V], now time.Time) bool {
		return resolve(key, entry).IsStale(key, entry, now)
	})
}

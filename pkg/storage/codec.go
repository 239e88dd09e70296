// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
)

// DecodeFunc converts a stored raw representation into a value. The default
// is json.Unmarshal into V, which errors loudly on shape mismatch.
type DecodeFunc[V any] func(raw json.RawMessage) (V, error)

// KeyFunc converts a cache key into its stored string form. Distinct keys
// must map to distinct strings.
type KeyFunc[K comparable] func(key K) string

// JSONBackend adapts a RawBackend into a typed Backend by encoding values as
// JSON and keys as strings.
type JSONBackend[K comparable, V any] struct {
	raw       RawBackend
	keyFunc   KeyFunc[K]
	decode    DecodeFunc[V]
	storeName string
}

// JSONOption configures a JSONBackend.
type JSONOption[K comparable, V any] func(*JSONBackend[K, V])

// WithKeyFunc overrides the key-to-string encoding (default fmt.Sprint).
func WithKeyFunc[K comparable, V any](fn KeyFunc[K]) JSONOption[K, V] {
	return func(b *JSONBackend[K, V]) {
		b.keyFunc = fn
	}
}

// WithDecode overrides how stored raw JSON is decoded into V.
func WithDecode[K comparable, V any](fn DecodeFunc[V]) JSONOption[K, V] {
	return func(b *JSONBackend[K, V]) {
		b.decode = fn
	}
}

// NewJSON wraps raw in a typed backend for the named family.
func NewJSON[K comparable, V any](storageName string, raw RawBackend, opts ...JSONOption[K, V]) *JSONBackend[K, V] {
	b := &JSONBackend[K, V]{
		raw:       raw,
		storeName: storageName,
		keyFunc: func(key K) string {
			return fmt.Sprint(key)
		},
		decode: func(raw json.RawMessage) (V, error) {
			var v V
			if err := json.Unmarshal(raw, &v); err != nil {
				return v, err
			}
			return v, nil
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the decoded entry for key, or nil when absent. A stored value
// that fails to decode returns a DECODE_FAILED error.
func (b *JSONBackend[K, V]) Get(ctx context.Context, key K) (*Entry[V], error) {
	rawEntry, err := b.raw.Get(ctx, b.keyFunc(key))
	if err != nil {
		return nil, err
	}
	if rawEntry == nil {
		return nil, nil
	}

	value, err := b.decode(rawEntry.Value)
	if err != nil {
		return nil, oops.Code("DECODE_FAILED").
			With("storage_name", b.storeName).
			With("key", b.keyFunc(key)).
			Wrap(err)
	}
	return &Entry[V]{Value: value, StoreTime: rawEntry.StoreTime}, nil
}

// Put stores value stamped with the backend's current time.
func (b *JSONBackend[K, V]) Put(ctx context.Context, key K, value V) error {
	raw, err := b.encode(key, value)
	if err != nil {
		return err
	}
	return b.raw.Put(ctx, b.keyFunc(key), raw)
}

// PutAt stores value with an explicit store timestamp.
func (b *JSONBackend[K, V]) PutAt(ctx context.Context, key K, value V, storeTime int64) error {
	raw, err := b.encode(key, value)
	if err != nil {
		return err
	}
	return b.raw.PutAt(ctx, b.keyFunc(key), raw, storeTime)
}

// Remove deletes the entry for key.
func (b *JSONBackend[K, V]) Remove(ctx context.Context, key K) error {
	return b.raw.Remove(ctx, b.keyFunc(key))
}

// Clear deletes every entry of the family.
func (b *JSONBackend[K, V]) Clear(ctx context.Context) error {
	return b.raw.Clear(ctx)
}

func (b *JSONBackend[K, V]) encode(key K, value V) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, oops.Code("ENCODE_FAILED").
			With("storage_name", b.storeName).
			With("key", b.keyFunc(key)).
			Wrap(err)
	}
	return raw, nil
}

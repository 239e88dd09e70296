// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package cache

import (
	"github.com/resourcecache/resourcecache/pkg/staleness"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

func resolveConfig[K comparable, V any](opts []Option[K, V]) config[K, V] {
	var cfg config[K, V]
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.now == nil {
		cfg.now = storage.DefaultTimestamp()
	}
	if cfg.logger == nil {
		cfg.logger = storage.DefaultLogger()
	}
	if cfg.policy == nil {
		cfg.policy = staleness.Never[K, V]()
	}
	return cfg
}

// New creates an in-memory family: entries live in a process-local map and
// vanish with the process.
func New[K comparable, V any](family string, fetch Fetch[K, V], opts ...Option[K, V]) *Coordinator[K, V] {
	cfg := resolveConfig(opts)
	if cfg.store == nil {
		cfg.store = storage.NewMemory[K, V](storage.WithTimestampProvider(cfg.now))
	}
	return newCoordinator(family, fetch, cfg, true)
}

// NewPersistent creates a family backed by the process-wide persistent
// storage factory. Construction fails with CONFIGURATION_MISSING when no
// factory has been registered via storage.Configure.
func NewPersistent[K comparable, V any](family string, fetch Fetch[K, V], opts ...Option[K, V]) (*Coordinator[K, V], error) {
	cfg := resolveConfig(opts)
	if cfg.store == nil {
		store, err := buildStore[K, V](family, cfg, storage.DefaultPersistentFactory)
		if err != nil {
			return nil, err
		}
		cfg.store = store
	}
	return newCoordinator(family, fetch, cfg, true), nil
}

// NewSecure creates a family backed by the process-wide secure storage
// factory. The in-memory last-emitted slot is disabled by default so
// secrets do not remain in process memory after emission; construction
// fails with CONFIGURATION_MISSING when no factory has been registered.
func NewSecure[K comparable, V any](family string, fetch Fetch[K, V], opts ...Option[K, V]) (*Coordinator[K, V], error) {
	cfg := resolveConfig(opts)
	if cfg.store == nil {
		store, err := buildStore[K, V](family, cfg, storage.DefaultSecureFactory)
		if err != nil {
			return nil, err
		}
		cfg.store = store
	}
	return newCoordinator(family, fetch, cfg, false), nil
}

func buildStore[K comparable, V any](family string, cfg config[K, V], factoryFn func() (storage.Factory, error)) (storage.Backend[K, V], error) {
	factory, err := factoryFn()
	if err != nil {
		return nil, err
	}
	raw, err := factory(family)
	if err != nil {
		return nil, err
	}

	var jsonOpts []storage.JSONOption[K, V]
	if cfg.decode != nil {
		jsonOpts = append(jsonOpts, storage.WithDecode[K, V](cfg.decode))
	}
	if cfg.keyFunc != nil {
		jsonOpts = append(jsonOpts, storage.WithKeyFunc[K, V](cfg.keyFunc))
	}
	return storage.NewJSON[K, V](family, raw, jsonOpts...), nil
}

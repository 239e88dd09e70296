// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package postgres provides a PostgreSQL-backed raw storage backend, so
// cache families can share their persisted entries with other processes
// using the same database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/resourcecache/resourcecache/pkg/storage"
)

// poolIface abstracts pgxpool.Pool for testing with pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend stores one resource family's entries in the resource_cache
// table, namespaced by storage name. It implements storage.RawBackend.
type Backend struct {
	pool      poolIface
	storeName string
	now       storage.TimestampProvider
	owned     *pgxpool.Pool
}

// Option configures a Backend.
type Option func(*Backend)

// WithPgTimestampProvider overrides the clock used by Put.
func WithPgTimestampProvider(now storage.TimestampProvider) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New connects a pool and returns a backend for the named family. Close
// releases the pool.
func New(ctx context.Context, dsn, storageName string, opts ...Option) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORAGE_CONNECT_FAILED").
			With("storage_name", storageName).
			Wrap(err)
	}
	b := NewWithPool(pool, storageName, opts...)
	b.owned = pool
	return b, nil
}

// NewWithPool returns a backend for the named family over a caller-owned
// pool (or a pgxmock pool in tests).
func NewWithPool(pool poolIface, storageName string, opts ...Option) *Backend {
	b := &Backend{
		pool:      pool,
		storeName: storageName,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Factory returns a storage.Factory producing backends over the given
// pool, one per family. Register it via storage.Configure to serve
// persistent families from PostgreSQL.
func Factory(pool poolIface, opts ...Option) storage.Factory {
	return func(storageName string) (storage.RawBackend, error) {
		return NewWithPool(pool, storageName, opts...), nil
	}
}

// Close releases the connection pool when this backend created it.
func (b *Backend) Close() {
	if b.owned != nil {
		b.owned.Close()
	}
}

// Get returns the entry for key, or nil when absent.
func (b *Backend) Get(ctx context.Context, key string) (*storage.Entry[json.RawMessage], error) {
	var value []byte
	var storeTime int64
	err := b.pool.QueryRow(ctx,
		`SELECT value, store_time FROM resource_cache
		 WHERE storage_name = $1 AND cache_key = $2`,
		b.storeName, key,
	).Scan(&value, &storeTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, b.wrap("get entry", key, err)
	}
	return &storage.Entry[json.RawMessage]{Value: value, StoreTime: storeTime}, nil
}

// Put stores value stamped with the current time.
func (b *Backend) Put(ctx context.Context, key string, value json.RawMessage) error {
	return b.PutAt(ctx, key, value, b.now())
}

// PutAt upserts value with an explicit store timestamp.
func (b *Backend) PutAt(ctx context.Context, key string, value json.RawMessage, storeTime int64) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO resource_cache (storage_name, cache_key, value, store_time)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (storage_name, cache_key)
		 DO UPDATE SET value = EXCLUDED.value, store_time = EXCLUDED.store_time`,
		b.storeName, key, []byte(value), storeTime,
	)
	if err != nil {
		return b.wrap("put entry", key, err)
	}
	return nil
}

// Remove deletes the entry for key.
func (b *Backend) Remove(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM resource_cache WHERE storage_name = $1 AND cache_key = $2`,
		b.storeName, key,
	)
	if err != nil {
		return b.wrap("remove entry", key, err)
	}
	return nil
}

// Clear deletes every entry of the family.
func (b *Backend) Clear(ctx context.Context) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM resource_cache WHERE storage_name = $1`,
		b.storeName,
	)
	if err != nil {
		return b.wrap("clear entries", "", err)
	}
	return nil
}

// wrap attaches context to a database error. A missing table gets a
// migration hint, since that is the usual first-run failure.
func (b *Backend) wrap(operation, key string, err error) error {
	builder := oops.Code("STORAGE_QUERY_FAILED").
		With("storage_name", b.storeName).
		With("operation", operation)
	if key != "" {
		builder = builder.With("key", key)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		builder = builder.With("hint", "run postgres.Migrator.Up to create the resource_cache table")
	}
	return builder.Wrap(err)
}

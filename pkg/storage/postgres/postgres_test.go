// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcecache/resourcecache/pkg/errutil"
)

func newMockBackend(t *testing.T) (*Backend, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	backend := NewWithPool(mock, "products", WithPgTimestampProvider(func() int64 { return 1000 }))
	return backend, mock
}

func TestBackend_Get(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(`SELECT value, store_time FROM resource_cache`).
		WithArgs("products", "7").
		WillReturnRows(pgxmock.NewRows([]string{"value", "store_time"}).
			AddRow([]byte(`{"id":7}`), int64(500)))

	entry, err := backend.Get(context.Background(), "7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"id":7}`, string(entry.Value))
	assert.Equal(t, int64(500), entry.StoreTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Get_Missing(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(`SELECT value, store_time FROM resource_cache`).
		WithArgs("products", "7").
		WillReturnError(pgx.ErrNoRows)

	entry, err := backend.Get(context.Background(), "7")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Get_UndefinedTableHint(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(`SELECT value, store_time FROM resource_cache`).
		WithArgs("products", "7").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})

	_, err := backend.Get(context.Background(), "7")
	require.Error(t, err)
	errutil.AssertCode(t, err, "STORAGE_QUERY_FAILED")
	errutil.AssertContext(t, err, "hint", "run postgres.Migrator.Up to create the resource_cache table")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Put_UsesClock(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`INSERT INTO resource_cache`).
		WithArgs("products", "7", []byte(`{"id":7}`), int64(1000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := backend.Put(context.Background(), "7", json.RawMessage(`{"id":7}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_PutAt_ZeroMarksInvalidated(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`INSERT INTO resource_cache`).
		WithArgs("products", "7", []byte(`{"id":7}`), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := backend.PutAt(context.Background(), "7", json.RawMessage(`{"id":7}`), 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Remove(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`DELETE FROM resource_cache WHERE storage_name = \$1 AND cache_key = \$2`).
		WithArgs("products", "7").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, backend.Remove(context.Background(), "7"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Clear(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`DELETE FROM resource_cache WHERE storage_name = \$1`).
		WithArgs("products").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, backend.Clear(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_QueryError(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`DELETE FROM resource_cache`).
		WithArgs("products", "7").
		WillReturnError(errors.New("connection refused"))

	err := backend.Remove(context.Background(), "7")
	require.Error(t, err)
	errutil.AssertCode(t, err, "STORAGE_QUERY_FAILED")
	assert.Contains(t, err.Error(), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_SharesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	factory := Factory(mock)
	backend, err := factory("sessions")
	require.NoError(t, err)
	require.NotNil(t, backend)

	mock.ExpectQuery(`SELECT value, store_time FROM resource_cache`).
		WithArgs("sessions", "k").
		WillReturnError(pgx.ErrNoRows)

	entry, err := backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

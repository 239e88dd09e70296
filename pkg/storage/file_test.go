// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcecache/resourcecache/pkg/errutil"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFile(dir, "products", WithFileTimestampProvider(func() int64 { return 1000 }))
	require.NoError(t, err)

	require.NoError(t, backend.Put(ctx, "7", json.RawMessage(`{"id":7}`)))

	entry, err := backend.Get(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"id":7}`, string(entry.Value))
	assert.Equal(t, int64(1000), entry.StoreTime)
}

func TestFileBackend_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFile(dir, "products")
	require.NoError(t, err)
	require.NoError(t, first.PutAt(ctx, "7", json.RawMessage(`{"id":7}`), 500))

	reopened, err := NewFile(dir, "products")
	require.NoError(t, err)

	entry, err := reopened.Get(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"id":7}`, string(entry.Value))
	assert.Equal(t, int64(500), entry.StoreTime)
}

func TestFileBackend_PersistedLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFile(dir, "products")
	require.NoError(t, err)
	require.NoError(t, backend.PutAt(ctx, "7", json.RawMessage(`{"id":7}`), 1234))

	data, err := os.ReadFile(filepath.Join(dir, "products.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"7":{"value":{"id":7},"storeTime":1234}}`, string(data))
}

func TestFileBackend_RemoveClear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFile(dir, "products")
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, "a", json.RawMessage(`1`)))
	require.NoError(t, backend.Put(ctx, "b", json.RawMessage(`2`)))

	require.NoError(t, backend.Remove(ctx, "a"))
	entry, err := backend.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, backend.Clear(ctx))
	entry, err = backend.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, statErr := os.Stat(filepath.Join(dir, "products.json"))
	assert.True(t, os.IsNotExist(statErr), "document should be gone after Clear")
}

func TestFileBackend_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "products.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	backend, err := NewFile(dir, "products")
	require.NoError(t, err)

	_, err = backend.Get(ctx, "7")
	require.Error(t, err)
	errutil.AssertCode(t, err, "DECODE_FAILED")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/resourcecache/resourcecache/pkg/errutil"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, chacha20poly1305.KeySize)
}

func TestNewSecure_RejectsBadKey(t *testing.T) {
	_, err := NewSecure(NewMemory[string, json.RawMessage](), []byte("short"))
	require.Error(t, err)
	errutil.AssertCode(t, err, "SECURE_KEY_INVALID")
}

func TestSecureBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory[string, json.RawMessage]()

	backend, err := NewSecure(inner, testKey())
	require.NoError(t, err)

	secret := json.RawMessage(`{"token":"hunter2"}`)
	require.NoError(t, backend.PutAt(ctx, "session", secret, 1000))

	entry, err := backend.Get(ctx, "session")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, string(secret), string(entry.Value))
	assert.Equal(t, int64(1000), entry.StoreTime)
}

func TestSecureBackend_CiphertextAtRest(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory[string, json.RawMessage]()

	backend, err := NewSecure(inner, testKey())
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, "session", json.RawMessage(`{"token":"hunter2"}`)))

	stored, err := inner.Get(ctx, "session")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, string(stored.Value), "hunter2")
}

func TestSecureBackend_TamperDetection(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory[string, json.RawMessage]()

	backend, err := NewSecure(inner, testKey())
	require.NoError(t, err)
	require.NoError(t, backend.PutAt(ctx, "session", json.RawMessage(`1`), 1000))

	// Overwrite the ciphertext with garbage of valid shape.
	require.NoError(t, inner.PutAt(ctx, "session", json.RawMessage(`"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"`), 1000))

	_, err = backend.Get(ctx, "session")
	require.Error(t, err)
	errutil.AssertCode(t, err, "DECODE_FAILED")
}

func TestSecureBackend_WrongKey(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory[string, json.RawMessage]()

	writer, err := NewSecure(inner, testKey())
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, "session", json.RawMessage(`1`)))

	reader, err := NewSecure(inner, bytes.Repeat([]byte{0x13}, chacha20poly1305.KeySize))
	require.NoError(t, err)

	_, err = reader.Get(ctx, "session")
	require.Error(t, err)
	errutil.AssertCode(t, err, "DECODE_FAILED")
}

func TestSecureFactory_LayersOverInner(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	factory := SecureFactory(FileFactory(dir), testKey())
	backend, err := factory("secrets")
	require.NoError(t, err)

	require.NoError(t, backend.Put(ctx, "k", json.RawMessage(`"s3cret"`)))

	entry, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"s3cret"`, string(entry.Value))
}

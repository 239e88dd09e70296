// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
)

// SecureBackend encrypts values at rest with XChaCha20-Poly1305 before
// handing them to an inner raw backend. Each value is sealed with a fresh
// random nonce; nonce and ciphertext are stored together as a base64 JSON
// string, so any raw backend can carry secrets.
type SecureBackend struct {
	inner RawBackend
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSecure wraps inner with encryption. The key must be
// chacha20poly1305.KeySize (32) bytes.
func NewSecure(inner RawBackend, key []byte) (*SecureBackend, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, oops.Code("SECURE_KEY_INVALID").
			With("key_bytes", len(key)).
			Wrap(err)
	}
	return &SecureBackend{inner: inner, aead: aead}, nil
}

// SecureFactory returns a Factory producing encrypting backends layered over
// the backends built by inner.
func SecureFactory(inner Factory, key []byte) Factory {
	return func(storageName string) (RawBackend, error) {
		raw, err := inner(storageName)
		if err != nil {
			return nil, err
		}
		return NewSecure(raw, key)
	}
}

// Get returns the decrypted entry for key, or nil when absent. Tampered or
// undecryptable ciphertext surfaces as a DECODE_FAILED error.
func (s *SecureBackend) Get(ctx context.Context, key string) (*Entry[json.RawMessage], error) {
	entry, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	plaintext, err := s.open(key, entry.Value)
	if err != nil {
		return nil, err
	}
	return &Entry[json.RawMessage]{Value: plaintext, StoreTime: entry.StoreTime}, nil
}

// Put stores an encrypted value stamped with the inner backend's clock.
func (s *SecureBackend) Put(ctx context.Context, key string, value json.RawMessage) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, sealed)
}

// PutAt stores an encrypted value with an explicit store timestamp.
func (s *SecureBackend) PutAt(ctx context.Context, key string, value json.RawMessage, storeTime int64) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.PutAt(ctx, key, sealed, storeTime)
}

// Remove deletes the entry for key.
func (s *SecureBackend) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

// Clear deletes every entry of the family.
func (s *SecureBackend) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

func (s *SecureBackend) seal(value json.RawMessage) (json.RawMessage, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Code("SECURE_SEAL_FAILED").Wrap(err)
	}

	sealed := s.aead.Seal(nonce, nonce, value, nil)
	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(sealed))
	if err != nil {
		return nil, oops.Code("SECURE_SEAL_FAILED").Wrap(err)
	}
	return encoded, nil
}

func (s *SecureBackend) open(key string, stored json.RawMessage) (json.RawMessage, error) {
	var encoded string
	if err := json.Unmarshal(stored, &encoded); err != nil {
		return nil, oops.Code("DECODE_FAILED").With("key", key).Wrap(err)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code("DECODE_FAILED").With("key", key).Wrap(err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, oops.Code("DECODE_FAILED").With("key", key).Errorf("ciphertext shorter than nonce")
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, oops.Code("DECODE_FAILED").With("key", key).Wrap(err)
	}
	return plaintext, nil
}

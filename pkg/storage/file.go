// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// FileBackend persists one resource family as a single JSON document at
// <dir>/<storageName>.json. Entries keep the shape
// {"value": <raw>, "storeTime": <int64>}. Writes go through a temp file and
// an atomic rename so a crash never leaves a torn document behind.
type FileBackend struct {
	path      string
	storeName string
	now       TimestampProvider

	mu      sync.Mutex
	loaded  bool
	entries map[string]Entry[json.RawMessage]
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileTimestampProvider overrides the clock used by Put.
func WithFileTimestampProvider(now TimestampProvider) FileOption {
	return func(b *FileBackend) {
		b.now = now
	}
}

// NewFile creates a file backend for the named family rooted at dir. The
// directory is created if missing; the document itself is created lazily on
// first write.
func NewFile(dir, storageName string, opts ...FileOption) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, oops.Code("STORAGE_DIR_FAILED").With("dir", dir).Wrap(err)
	}

	b := &FileBackend{
		path:      filepath.Join(dir, storageName+".json"),
		storeName: storageName,
		now:       Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// FileFactory returns a Factory creating file backends rooted at dir. It is
// the usual persistent factory registered via Configure.
func FileFactory(dir string, opts ...FileOption) Factory {
	return func(storageName string) (RawBackend, error) {
		return NewFile(dir, storageName, opts...)
	}
}

// Get returns the entry for key, or nil when absent.
func (b *FileBackend) Get(_ context.Context, key string) (*Entry[json.RawMessage], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return nil, err
	}
	entry, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put stores value stamped with the current time.
func (b *FileBackend) Put(ctx context.Context, key string, value json.RawMessage) error {
	return b.PutAt(ctx, key, value, b.now())
}

// PutAt stores value with an explicit store timestamp.
func (b *FileBackend) PutAt(_ context.Context, key string, value json.RawMessage, storeTime int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return err
	}
	b.entries[key] = Entry[json.RawMessage]{Value: value, StoreTime: storeTime}
	return b.persist()
}

// Remove deletes the entry for key.
func (b *FileBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return err
	}
	if _, ok := b.entries[key]; !ok {
		return nil
	}
	delete(b.entries, key)
	return b.persist()
}

// Clear deletes every entry and the backing document.
func (b *FileBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]Entry[json.RawMessage])
	b.loaded = true
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("STORAGE_CLEAR_FAILED").With("path", b.path).Wrap(err)
	}
	return nil
}

// load reads the document from disk once. Callers hold b.mu.
func (b *FileBackend) load() error {
	if b.loaded {
		return nil
	}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.entries = make(map[string]Entry[json.RawMessage])
		b.loaded = true
		return nil
	}
	if err != nil {
		return oops.Code("STORAGE_READ_FAILED").With("path", b.path).Wrap(err)
	}

	entries := make(map[string]Entry[json.RawMessage])
	if err := json.Unmarshal(data, &entries); err != nil {
		return oops.Code("DECODE_FAILED").With("path", b.path).Wrap(err)
	}
	b.entries = entries
	b.loaded = true
	return nil
}

// persist writes the document atomically. Callers hold b.mu.
func (b *FileBackend) persist() error {
	data, err := json.Marshal(b.entries)
	if err != nil {
		return oops.Code("ENCODE_FAILED").With("path", b.path).Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+b.storeName+"-*")
	if err != nil {
		return oops.Code("STORAGE_WRITE_FAILED").With("path", b.path).Wrap(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return oops.Code("STORAGE_WRITE_FAILED").With("path", b.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return oops.Code("STORAGE_WRITE_FAILED").With("path", b.path).Wrap(err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return oops.Code("STORAGE_WRITE_FAILED").With("path", b.path).Wrap(err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package storage

import (
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

// Config holds the process-wide defaults consulted when resource families
// are constructed. Only construction reads it; changing the configuration
// after a family exists does not affect that family.
type Config struct {
	// PersistentFactory builds raw backends for persistent families.
	// Required before the first persistent family is constructed.
	PersistentFactory Factory

	// SecureFactory builds raw backends for secure families. Required
	// before the first secure family is constructed.
	SecureFactory Factory

	// Logger is the default logger for families constructed without one.
	// Defaults to a discard logger.
	Logger *slog.Logger

	// Timestamp is the default clock. Defaults to Now.
	Timestamp TimestampProvider
}

var (
	configMu sync.RWMutex
	config   Config
)

// Configure replaces the process-wide defaults.
func Configure(cfg Config) {
	configMu.Lock()
	defer configMu.Unlock()
	config = cfg
}

// ResetConfig clears the process-wide defaults. Intended for tests.
func ResetConfig() {
	Configure(Config{})
}

// DefaultPersistentFactory returns the configured persistent factory, or a
// CONFIGURATION_MISSING error when none has been registered.
func DefaultPersistentFactory() (Factory, error) {
	configMu.RLock()
	defer configMu.RUnlock()

	if config.PersistentFactory == nil {
		return nil, oops.Code("CONFIGURATION_MISSING").
			With("factory", "PersistentFactory").
			Errorf("persistent storage factory is not configured; call storage.Configure first")
	}
	return config.PersistentFactory, nil
}

// DefaultSecureFactory returns the configured secure factory, or a
// CONFIGURATION_MISSING error when none has been registered.
func DefaultSecureFactory() (Factory, error) {
	configMu.RLock()
	defer configMu.RUnlock()

	if config.SecureFactory == nil {
		return nil, oops.Code("CONFIGURATION_MISSING").
			With("factory", "SecureFactory").
			Errorf("secure storage factory is not configured; call storage.Configure first")
	}
	return config.SecureFactory, nil
}

// DefaultLogger returns the configured logger, or a discard logger.
func DefaultLogger() *slog.Logger {
	configMu.RLock()
	defer configMu.RUnlock()

	if config.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return config.Logger
}

// DefaultTimestamp returns the configured clock, or Now.
func DefaultTimestamp() TimestampProvider {
	configMu.RLock()
	defer configMu.RUnlock()

	if config.Timestamp == nil {
		return Now
	}
	return config.Timestamp
}

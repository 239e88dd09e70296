// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package errutil logs errors with the structured context oops errors carry.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Log logs an error at the given level. For oops errors it extracts the
// code and context into structured attrs; for standard errors it logs the
// error string.
func Log(logger *slog.Logger, level slog.Level, msg string, err error) {
	attrs := []any{"error", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
	}
	logger.Log(context.Background(), level, msg, attrs...)
}

// LogError logs an error at error level.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(logger, slog.LevelError, msg, err)
}

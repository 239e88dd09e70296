// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func cacheGroup(t *testing.T, record map[string]any) map[string]any {
	t.Helper()
	group, ok := record[GroupCache].(map[string]any)
	require.True(t, ok, "record should carry a %q group: %v", GroupCache, record)
	return group
}

func TestSetup_PromotesCorrelationAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("catalog", "json", slog.LevelDebug, &buf)

	logger.Info("cache hit", "family", "products", "elapsed_ms", 3)

	record := decodeRecord(t, &buf)
	assert.Equal(t, "cache hit", record["msg"])
	assert.Equal(t, "catalog", record["service"])
	assert.Equal(t, float64(3), record["elapsed_ms"], "non-correlation attrs stay top-level")
	assert.NotContains(t, record, "family")
	assert.Equal(t, "products", cacheGroup(t, record)["family"])
}

func TestSetup_WithScopingJoinsCallSiteAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("catalog", "json", slog.LevelDebug, &buf).
		With("family", "products", "key", "7")

	logger.Debug("subscription attached", "subscription_id", "01HTEST")

	group := cacheGroup(t, decodeRecord(t, &buf))
	assert.Equal(t, "products", group["family"])
	assert.Equal(t, "7", group["key"])
	assert.Equal(t, "01HTEST", group["subscription_id"])
}

func TestSetup_WithGroupStopsPromotion(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("catalog", "json", slog.LevelDebug, &buf).WithGroup("req")

	logger.Info("handled", "family", "products")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, GroupCache)
	req, ok := record["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "products", req["family"], "keys inside a caller group keep their meaning")
}

func TestSetup_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("catalog", "text", slog.LevelDebug, &buf)

	logger.Debug("refresh scheduled", "family", "products")
	assert.Contains(t, buf.String(), "refresh scheduled")
	assert.Contains(t, buf.String(), "service=catalog")
	assert.Contains(t, buf.String(), "cache.family=products")
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("catalog", "json", slog.LevelWarn, &buf)

	logger.Info("suppressed")
	assert.Empty(t, buf.String())

	logger.Warn("emitted")
	assert.Contains(t, buf.String(), "emitted")
}

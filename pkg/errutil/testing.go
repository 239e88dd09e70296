// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertCode asserts that err is an oops error carrying the given code.
func AssertCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}

// AssertContext asserts that err is an oops error carrying the given
// context key and value.
func AssertContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	errCtx := oopsErr.Context()
	assert.Contains(t, errCtx, key)
	assert.Equal(t, value, errCtx[key])
}

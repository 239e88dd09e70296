// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package resource defines the tagged value emitted to cache observers.
//
// A Resource is always in exactly one of three states: Loading while a
// refresh is in flight, Success when the value is authoritative, or Error
// when the most recent refresh failed. All three states may carry the last
// known value so observers can render stale data while waiting.
package resource

import (
	"fmt"
	"reflect"
)

// State identifies which variant a Resource is in.
type State int

// Resource states.
const (
	StateLoading State = iota
	StateSuccess
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resource is a cache observation: a state plus the last known value.
//
// Data is nil when no value has ever been cached. Message and Err are only
// meaningful in StateError; Err carries the underlying cause (and, for oops
// errors, the captured stack trace).
type Resource[V any] struct {
	State   State
	Data    *V
	Message string
	Err     error
}

// Loading returns a loading Resource carrying the last known value, if any.
func Loading[V any](data *V) Resource[V] {
	return Resource[V]{State: StateLoading, Data: data}
}

// Success returns a success Resource. A nil data is valid: it represents a
// family with no fetcher and an empty store.
func Success[V any](data *V) Resource[V] {
	return Resource[V]{State: StateSuccess, Data: data}
}

// Failure returns an error Resource preserving the previously cached value.
func Failure[V any](data *V, message string, cause error) Resource[V] {
	return Resource[V]{State: StateError, Data: data, Message: message, Err: cause}
}

// IsLoading reports whether the resource is in the loading state.
func (r Resource[V]) IsLoading() bool { return r.State == StateLoading }

// IsSuccess reports whether the resource is in the success state.
func (r Resource[V]) IsSuccess() bool { return r.State == StateSuccess }

// IsError reports whether the resource is in the error state.
func (r Resource[V]) IsError() bool { return r.State == StateError }

// Value returns the carried data and whether it is present.
func (r Resource[V]) Value() (V, bool) {
	if r.Data == nil {
		var zero V
		return zero, false
	}
	return *r.Data, true
}

// Equal reports structural equality over (state, data, message, err).
// Data is compared deeply; errors are compared with reflect.DeepEqual so
// that uncomparable error types cannot panic an equality check.
func (r Resource[V]) Equal(other Resource[V]) bool {
	if r.State != other.State || r.Message != other.Message {
		return false
	}
	if !reflect.DeepEqual(r.Err, other.Err) {
		return false
	}
	return reflect.DeepEqual(r.Data, other.Data)
}

// Combine merges two resources into one using fn to merge the carried data.
//
// The resulting state follows these rules: both Success produces Success;
// Loading dominates Error; an Error survives only when a is Success and b is
// Error (b's message and cause win) or when both sides are Error, in which
// case a's error wins. Every other combination is Loading.
func Combine[A, B, R any](a Resource[A], b Resource[B], fn func(*A, *B) *R) Resource[R] {
	data := fn(a.Data, b.Data)

	switch {
	case a.IsSuccess() && b.IsSuccess():
		return Success(data)
	case a.IsSuccess() && b.IsError():
		return Failure(data, b.Message, b.Err)
	case a.IsError() && b.IsError():
		return Failure(data, a.Message, a.Err)
	default:
		return Loading(data)
	}
}

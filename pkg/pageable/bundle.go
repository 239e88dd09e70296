// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package pageable builds growing, cached lists on top of the cache
// coordinator. Two paging strategies are provided: offset+intersection
// (re-requesting trailing items to detect server-side changes) and
// page+size (an explicit persisted cursor).
package pageable

import (
	"github.com/samber/oops"
)

// Bundle is the aggregated pagination value cached per key: every item
// loaded so far in origin order, plus cursor and exhaustion metadata.
//
// NextPage is only used by the page+size strategy; Meta is opaque and
// user-extensible (a total count, for instance).
type Bundle[V comparable, M any] struct {
	Items     []V  `json:"items"`
	LoadedAll bool `json:"loadedAll"`
	NextPage  *int `json:"nextPage,omitempty"`
	Meta      *M   `json:"meta,omitempty"`
}

// PageResponse is one origin page in the page+size strategy.
type PageResponse[V comparable, M any] struct {
	Items []V
	Meta  *M
}

// errInconsistentPageData reports that a freshly fetched page contradicts
// the cached bundle: the overlap did not match (offset strategy) or items
// were duplicated (size strategy). The expected recovery is to invalidate
// the key: the refresh refetches the first page and drops the later pages
// unless the cached bundle can be reused.
func errInconsistentPageData(family string, detail string) error {
	return oops.Code("INCONSISTENT_PAGE_DATA").
		With("family", family).
		Errorf("inconsistent page data: %s", detail)
}

// errLoadInFlight reports a rejected re-entrant LoadNextPage call.
func errLoadInFlight(family string) error {
	return oops.Code("PAGE_LOAD_IN_FLIGHT").
		With("family", family).
		Errorf("a page load is already in flight")
}

// IsInconsistentPageData reports whether err carries the
// INCONSISTENT_PAGE_DATA code.
func IsInconsistentPageData(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == "INCONSISTENT_PAGE_DATA"
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch result labels.
const (
	fetchResultOK    = "ok"
	fetchResultError = "error"
)

// Prometheus collectors for the cache core. Register with your registry at
// startup via RegisterMetrics; unregistered collectors still accept
// increments, so instrumentation is always on.
var (
	// FetchTotal counts origin fetches by family and result.
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resource_cache_fetch_total",
		Help: "Origin fetches performed, by resource family and result",
	}, []string{"family", "result"})

	// HitTotal counts refreshes served from a fresh cached entry without
	// an origin call.
	HitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resource_cache_hit_total",
		Help: "Refreshes satisfied by a fresh cached entry",
	}, []string{"family"})

	// ActiveSubscriptions tracks currently attached subscribers.
	ActiveSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resource_cache_active_subscriptions",
		Help: "Currently active resource subscriptions",
	}, []string{"family"})
)

// RegisterMetrics registers the cache collectors with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FetchTotal, HitTotal, ActiveSubscriptions)
}

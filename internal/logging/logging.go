// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package logging builds the slog loggers the cache hands out.
//
// The handler does two cache-specific things on top of plain slog: it
// gathers the cache's correlation attrs (family, key, subscription_id)
// under one "cache" group no matter which call site supplied them, so a
// family scoped via Logger.With and a subscription id passed at the call
// site land in the same place; and it stamps records with the service name
// and, when the context carries an active span, the OpenTelemetry trace
// and span IDs.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Correlation attr keys used across pkg/cache and pkg/pageable. The handler
// promotes these into the GroupCache group.
const (
	AttrFamily       = "family"
	AttrKey          = "key"
	AttrSubscription = "subscription_id"
)

// GroupCache is the group correlation attrs are gathered under.
const GroupCache = "cache"

func isCorrelationAttr(key string) bool {
	return key == AttrFamily || key == AttrKey || key == AttrSubscription
}

// cacheHandler promotes correlation attrs and enriches records with
// service and trace context.
type cacheHandler struct {
	inner   slog.Handler
	service string

	// correlation holds attrs partitioned out of WithAttrs calls, so
	// Logger.With("family", ...) scoping ends up in the group too.
	correlation []slog.Attr

	// passthrough disables promotion once the caller opened its own
	// group; lifting keys out of a foreign group would change their
	// meaning.
	passthrough bool
}

// Handle partitions the record's attrs, emits the correlation group, and
// appends service and trace attrs.
func (h *cacheHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	correlation := make([]slog.Attr, len(h.correlation), len(h.correlation)+2)
	copy(correlation, h.correlation)
	r.Attrs(func(a slog.Attr) bool {
		if !h.passthrough && isCorrelationAttr(a.Key) {
			correlation = append(correlation, a)
		} else {
			out.AddAttrs(a)
		}
		return true
	})
	if len(correlation) > 0 {
		out.AddAttrs(slog.Attr{Key: GroupCache, Value: slog.GroupValue(correlation...)})
	}

	out.AddAttrs(slog.String("service", h.service))
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		out.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		out.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	return h.inner.Handle(ctx, out)
}

// Enabled defers to the wrapped handler.
func (h *cacheHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// WithAttrs keeps correlation attrs aside for the group and forwards the
// rest to the wrapped handler.
func (h *cacheHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	if h.passthrough {
		next.inner = h.inner.WithAttrs(attrs)
		return next
	}

	var rest []slog.Attr
	for _, a := range attrs {
		if isCorrelationAttr(a.Key) {
			next.correlation = append(next.correlation, a)
		} else {
			rest = append(rest, a)
		}
	}
	if len(rest) > 0 {
		next.inner = h.inner.WithAttrs(rest)
	}
	return next
}

// WithGroup opens a group on the wrapped handler and stops promotion.
func (h *cacheHandler) WithGroup(name string) slog.Handler {
	next := h.clone()
	next.inner = h.inner.WithGroup(name)
	next.passthrough = true
	return next
}

func (h *cacheHandler) clone() *cacheHandler {
	correlation := make([]slog.Attr, len(h.correlation))
	copy(correlation, h.correlation)
	return &cacheHandler{
		inner:       h.inner,
		service:     h.service,
		correlation: correlation,
		passthrough: h.passthrough,
	}
}

// Setup creates a configured slog.Logger.
// format is "json" or "text" (defaults to "json"). A nil w writes to
// os.Stderr.
func Setup(service, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&cacheHandler{inner: base, service: service})
}

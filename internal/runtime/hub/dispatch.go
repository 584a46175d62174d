package hub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// HandlerError describes one handler that failed during a publish.
type HandlerError struct {
	Event string
	// Index is the handler position within its matched list.
	Index    int
	Wildcard bool
	Err      error
}

func (e *HandlerError) Error() string {
	kind := "handler"
	if e.Wildcard {
		kind = "wildcard handler"
	}
	return fmt.Sprintf("%s %d for %q: %v", kind, e.Index, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrorHandler observes handler failures. It runs on the publishing goroutine
// (or the handler goroutine in parallel mode) and must not block for long.
type ErrorHandler func(ctx context.Context, err *HandlerError)

func (h *Hub) dispatch(ctx context.Context, k key, event string, payload any) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return errspkg.ErrHubClosed
	}
	// Slices are append-only, so the captured headers are a stable snapshot.
	matched := h.handlers[k]
	if k.kind == keyType {
		matched = h.byType[k.typ]
	}
	wildcards := h.wildcards
	h.mu.RUnlock()

	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "hub.publish",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("eventrelay.event", event),
			attribute.Int("eventrelay.handlers", len(matched)),
			attribute.Int("eventrelay.wildcards", len(wildcards)),
		),
	)
	defer span.End()

	failed := h.runAll(ctx, event, len(matched), false, func(ctx context.Context, i int) error {
		return matched[i](ctx, payload)
	})
	failed += h.runAll(ctx, event, len(wildcards), true, func(ctx context.Context, i int) error {
		return wildcards[i](ctx, event)
	})

	h.metrics.ObservePublish(event, len(matched)+len(wildcards), time.Since(start))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d handler(s) failed", failed))
	}
	return nil
}

func (h *Hub) runAll(ctx context.Context, event string, n int, wildcard bool, call func(ctx context.Context, i int) error) int {
	var failed atomic.Int32
	invoke := func(i int) {
		if err := safeCall(ctx, i, call); err != nil {
			failed.Add(1)
			h.report(ctx, &HandlerError{Event: event, Index: i, Wildcard: wildcard, Err: err})
		}
	}

	if !h.parallel || n < 2 {
		for i := range n {
			invoke(i)
		}
		return int(failed.Load())
	}

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			invoke(i)
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func safeCall(ctx context.Context, i int, call func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errspkg.ErrHandlerPanic, r)
		}
	}()
	return call(ctx, i)
}

func (h *Hub) report(ctx context.Context, herr *HandlerError) {
	h.logger.Error("Hub handler failed", herr.Err, loggingpkg.LogFields{
		"event":    herr.Event,
		"handler":  herr.Index,
		"wildcard": herr.Wildcard,
	})
	h.metrics.ObserveHandlerFailure(herr.Event)
	trace.SpanFromContext(ctx).RecordError(herr)
	if h.onError != nil {
		h.onError(ctx, herr)
	}
}

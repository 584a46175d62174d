// Package hub is the in-process publish/subscribe registry. Handlers are keyed
// by event name, payload type, or both, plus a wildcard list that sees every
// publish. A publish runs all matched handlers before returning.
package hub

import (
	"context"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

const tracerName = "eventrelay/hub"

type keyKind uint8

const (
	keyName keyKind = iota + 1
	keyType
	keyNamedType
)

// key is resolved once at registration; dispatch is a map lookup.
type key struct {
	kind keyKind
	name string
	typ  reflect.Type
}

type handlerFunc func(ctx context.Context, payload any) error

type wildcardFunc func(ctx context.Context, event string) error

// Options tunes a Hub.
type Options struct {
	// EnableMetrics records publish counts and latency per event identity.
	EnableMetrics bool
	// MetricsName labels the series of this hub. Defaults to "eventrelay".
	MetricsName string
	// Parallel runs the handlers of one matched list concurrently. Handlers
	// still all finish before Publish returns and typed handlers still finish
	// before wildcard handlers start, but registration order is not kept.
	Parallel bool
	// Metrics overrides the collector used when EnableMetrics is set. When
	// nil a Prometheus collector is registered on the default registerer.
	Metrics MetricsCollector
	// ErrorHandler is told about every failed or panicking handler.
	ErrorHandler ErrorHandler
	// Tracer overrides the OpenTelemetry tracer.
	Tracer trace.Tracer
}

// Hub is safe for concurrent use. Create it with New and stop it with Close.
type Hub struct {
	mu       sync.RWMutex
	handlers map[key][]handlerFunc
	// byType holds every handler keyed by a payload type, named or not, in
	// registration order. Publish[T] dispatches from it.
	byType    map[reflect.Type][]handlerFunc
	wildcards []wildcardFunc
	closed    bool

	logger   loggingpkg.ServiceLogger
	metrics  MetricsCollector
	tracer   trace.Tracer
	onError  ErrorHandler
	parallel bool
}

// New builds a hub. A nil logger discards hub logs.
func New(logger loggingpkg.ServiceLogger, opts Options) (*Hub, error) {
	h := &Hub{
		handlers: make(map[key][]handlerFunc),
		byType:   make(map[reflect.Type][]handlerFunc),
		logger:   loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"component": "hub"}),
		metrics:  nopMetrics{},
		tracer:   opts.Tracer,
		onError:  opts.ErrorHandler,
		parallel: opts.Parallel,
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if opts.EnableMetrics {
		h.metrics = opts.Metrics
		if h.metrics == nil {
			prom, err := NewPrometheusMetrics(nil, opts.MetricsName)
			if err != nil {
				return nil, err
			}
			h.metrics = prom
		}
	}
	return h, nil
}

// TypeName is the identity wildcard handlers receive for Publish[T].
func TypeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// SubscribeSignal registers a payload-less handler for name.
func (h *Hub) SubscribeSignal(name string, fn func(ctx context.Context) error) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	return h.add(key{kind: keyName, name: name}, func(ctx context.Context, _ any) error {
		return fn(ctx)
	})
}

// Subscribe registers fn for every Publish[T].
func Subscribe[T any](h *Hub, fn func(ctx context.Context, payload T) error) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	return h.add(key{kind: keyType, typ: reflect.TypeFor[T]()}, typed(fn))
}

// SubscribeNamed registers fn for PublishNamed[T] with the same name. Publish[T]
// reaches it as well, since it runs every handler of T whatever its name.
func SubscribeNamed[T any](h *Hub, name string, fn func(ctx context.Context, payload T) error) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	return h.add(key{kind: keyNamedType, name: name, typ: reflect.TypeFor[T]()}, typed(fn))
}

// SubscribeToAll registers fn for every publish. It receives the event name,
// or TypeName for Publish[T], never the payload.
func (h *Hub) SubscribeToAll(fn func(ctx context.Context, event string) error) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errspkg.ErrHubClosed
	}
	h.wildcards = append(h.wildcards, fn)
	return nil
}

func typed[T any](fn func(ctx context.Context, payload T) error) handlerFunc {
	return func(ctx context.Context, payload any) error {
		// comma-ok keeps nil payloads of interface types from panicking
		value, _ := payload.(T)
		return fn(ctx, value)
	}
}

func (h *Hub) add(k key, fn handlerFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errspkg.ErrHubClosed
	}
	h.handlers[k] = append(h.handlers[k], fn)
	if k.kind == keyType || k.kind == keyNamedType {
		h.byType[k.typ] = append(h.byType[k.typ], fn)
	}
	return nil
}

// PublishSignal runs the signal handlers for name, then the wildcard handlers.
func (h *Hub) PublishSignal(ctx context.Context, name string) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	return h.dispatch(ctx, key{kind: keyName, name: name}, name, nil)
}

// Publish runs every handler subscribed to T, including the ones registered
// with SubscribeNamed under any name, then the wildcard handlers.
func Publish[T any](ctx context.Context, h *Hub, payload T) error {
	return h.dispatch(ctx, key{kind: keyType, typ: reflect.TypeFor[T]()}, TypeName[T](), payload)
}

// PublishNamed runs the handlers subscribed to the exact (name, T) pair, then
// the wildcard handlers.
func PublishNamed[T any](ctx context.Context, h *Hub, name string, payload T) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	return h.dispatch(ctx, key{kind: keyNamedType, name: name, typ: reflect.TypeFor[T]()}, name, payload)
}

// SubscriptionCount reports the number of registered handlers, wildcards
// included.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.wildcards)
	for _, list := range h.handlers {
		n += len(list)
	}
	return n
}

// Close drops every subscription. Later subscribe and publish calls return
// ErrHubClosed. Publishes already running finish normally.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.handlers = nil
	h.byType = nil
	h.wildcards = nil
	return nil
}

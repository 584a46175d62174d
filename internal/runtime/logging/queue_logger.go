package logging

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventrelay/internal/runtime/serializer"
)

// LogEventTypeName is the type name log events are enqueued under.
const LogEventTypeName = "eventrelay.LogEvent"

// LogEvent is a structured log entry carried through the durable queue. The
// forwarder recognises it and fills the log-shaped repository columns.
type LogEvent struct {
	Timestamp       time.Time      `json:"timestamp"`
	Level           string         `json:"level"`
	MessageTemplate string         `json:"message_template"`
	RenderedMessage string         `json:"rendered_message"`
	Exception       string         `json:"exception,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
	SpanID          string         `json:"span_id,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// RegisterLogEvent makes LogEvent serializable through types.
func RegisterLogEvent(types *serializer.TypeRegistry) error {
	return serializer.Register[LogEvent](types, LogEventTypeName)
}

// Enqueuer is the part of the durable queue the QueueLogger needs.
type Enqueuer interface {
	TryEnqueue(ctx context.Context, payload any) (bool, error)
}

// QueueLogger logs through an inner ServiceLogger and additionally enqueues
// error entries as LogEvents. With CaptureInfo, info entries are enqueued as
// well. Enqueue failures never reach the caller; they are counted in Dropped.
type QueueLogger struct {
	inner       ServiceLogger
	queue       Enqueuer
	fields      LogFields
	ctx         context.Context
	captureInfo bool
	now         func() time.Time
	dropped     *atomic.Uint64
}

// QueueLoggerOption customises NewQueueLogger.
type QueueLoggerOption func(*QueueLogger)

// CaptureInfo enqueues info entries too.
func CaptureInfo() QueueLoggerOption {
	return func(l *QueueLogger) { l.captureInfo = true }
}

// NewQueueLogger wraps inner. Register LogEvent on the queue's serializer
// before the first error is logged, or every entry is dropped.
func NewQueueLogger(inner ServiceLogger, queue Enqueuer, opts ...QueueLoggerOption) *QueueLogger {
	if queue == nil {
		panic("eventrelay: queue logger needs an enqueuer")
	}
	l := &QueueLogger{
		inner:   OrNop(inner),
		queue:   queue,
		ctx:     context.Background(),
		now:     time.Now,
		dropped: new(atomic.Uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *QueueLogger) clone() *QueueLogger {
	c := *l
	return &c
}

// WithContext returns a logger that stamps the trace and span ids found in
// ctx on every enqueued event.
func (l *QueueLogger) WithContext(ctx context.Context) *QueueLogger {
	c := l.clone()
	c.ctx = ctx
	return c
}

func (l *QueueLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	c := l.clone()
	c.inner = l.inner.With(fields)
	c.fields = make(LogFields, len(l.fields)+len(fields))
	maps.Copy(c.fields, l.fields)
	maps.Copy(c.fields, fields)
	return c
}

func (l *QueueLogger) Debug(msg string, fields LogFields) {
	l.inner.Debug(msg, fields)
}

func (l *QueueLogger) Info(msg string, fields LogFields) {
	l.inner.Info(msg, fields)
	if l.captureInfo {
		l.enqueue("info", msg, nil, fields)
	}
}

func (l *QueueLogger) Error(msg string, err error, fields LogFields) {
	l.inner.Error(msg, err, fields)
	l.enqueue("error", msg, err, fields)
}

func (l *QueueLogger) Trace(msg string, fields LogFields) {
	l.inner.Trace(msg, fields)
}

// Dropped counts events that could not be enqueued, shared by every logger
// derived from the same NewQueueLogger call.
func (l *QueueLogger) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *QueueLogger) enqueue(level, msg string, err error, fields LogFields) {
	ev := LogEvent{
		Timestamp:       l.now().UTC(),
		Level:           level,
		MessageTemplate: msg,
		RenderedMessage: msg,
		Properties:      properties(l.fields, fields),
	}
	if err != nil {
		ev.Exception = err.Error()
		ev.RenderedMessage = msg + ": " + err.Error()
	}
	if sc := trace.SpanContextFromContext(l.ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
		ev.SpanID = sc.SpanID().String()
	}

	ok, qerr := l.queue.TryEnqueue(l.ctx, ev)
	if qerr != nil || !ok {
		l.dropped.Add(1)
		if qerr != nil {
			l.inner.Debug("Log event not enqueued", LogFields{"error": qerr.Error()})
		}
	}
}

// properties merges both field sets and flattens error values, which do not
// serialize to anything useful.
func properties(base, fields LogFields) map[string]any {
	if len(base) == 0 && len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(fields))
	for _, src := range []LogFields{base, fields} {
		for k, v := range src {
			if e, ok := v.(error); ok {
				v = e.Error()
			}
			out[k] = v
		}
	}
	return out
}

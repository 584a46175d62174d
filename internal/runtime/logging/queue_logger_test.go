package logging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/serializer"
)

type recordingEnqueuer struct {
	mu     sync.Mutex
	events []LogEvent
	ctxs   []context.Context
	full   bool
	err    error
}

func (r *recordingEnqueuer) TryEnqueue(ctx context.Context, payload any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if r.full {
		return false, nil
	}
	r.events = append(r.events, payload.(LogEvent))
	r.ctxs = append(r.ctxs, ctx)
	return true, nil
}

func TestQueueLoggerEnqueuesErrors(t *testing.T) {
	inner := &recordingServiceLogger{}
	q := &recordingEnqueuer{}
	base := NewQueueLogger(inner, q)
	base.Debug("ignored", nil)
	base.Info("also ignored", nil)

	logger := base.With(LogFields{"component": "forwarder"})
	logger.Error("Add failed", errors.New("connection reset"), LogFields{"attempt": 2, "cause": errors.New("eof")})

	require.Len(t, q.events, 1)
	ev := q.events[0]
	assert.Equal(t, "error", ev.Level)
	assert.Equal(t, "Add failed", ev.MessageTemplate)
	assert.Equal(t, "Add failed: connection reset", ev.RenderedMessage)
	assert.Equal(t, "connection reset", ev.Exception)
	assert.Equal(t, map[string]any{"component": "forwarder", "attempt": 2, "cause": "eof"}, ev.Properties)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Empty(t, ev.TraceID)

	require.Len(t, inner.entries, 3, "every entry still reaches the inner logger")
	assert.Equal(t, []string{"debug", "info", "error"}, []string{inner.entries[0].level, inner.entries[1].level, inner.entries[2].level})
	assert.Equal(t, "forwarder", inner.entries[2].fields["component"])
}

func TestQueueLoggerCaptureInfo(t *testing.T) {
	q := &recordingEnqueuer{}
	logger := NewQueueLogger(nil, q, CaptureInfo())

	logger.Info("Forwarded batch", LogFields{"records": 3})
	require.Len(t, q.events, 1)
	assert.Equal(t, "info", q.events[0].Level)
	assert.Empty(t, q.events[0].Exception)
}

func TestQueueLoggerTraceContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	q := &recordingEnqueuer{}
	NewQueueLogger(nil, q).WithContext(ctx).Error("boom", nil, nil)

	require.Len(t, q.events, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", q.events[0].TraceID)
	assert.Equal(t, "00f067aa0ba902b7", q.events[0].SpanID)
	assert.Equal(t, ctx, q.ctxs[0])
}

func TestQueueLoggerCountsDrops(t *testing.T) {
	q := &recordingEnqueuer{full: true}
	logger := NewQueueLogger(nil, q)
	derived := logger.With(LogFields{"k": "v"})

	logger.Error("one", nil, nil)
	derived.Error("two", nil, nil)
	assert.Equal(t, uint64(2), logger.Dropped())

	q.full, q.err = false, errspkg.ErrQueueClosed
	logger.Error("three", nil, nil)
	assert.Equal(t, uint64(3), logger.Dropped())
}

func TestQueueLoggerPanicsWithoutQueue(t *testing.T) {
	assert.Panics(t, func() { NewQueueLogger(nil, nil) })
}

func TestLogEventSerializes(t *testing.T) {
	types := serializer.NewTypeRegistry()
	require.NoError(t, RegisterLogEvent(types))
	s, err := serializer.New(serializer.JSON, types)
	require.NoError(t, err)

	ev := LogEvent{Level: "error", MessageTemplate: "x", RenderedMessage: "x: y", Exception: "y"}
	data, name, err := s.Serialize(ev)
	require.NoError(t, err)
	assert.Equal(t, LogEventTypeName, name)

	back, err := s.Deserialize(data, name)
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

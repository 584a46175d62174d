package logging

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields are the structured key/value pairs attached to a log entry.
type LogFields map[string]any

// ServiceLogger is the logger every eventrelay component receives. Its shape
// matches watermill.LoggerAdapter, so broker sinks log through it unchanged.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// EntryLogger is the non-generic form of EntryLoggerAdapter.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter is what NewEntryServiceLogger needs from an entry-style
// logger such as *logrus.Entry. T is the type WithError and WithField return,
// so loggers that return their own concrete type fit without a wrapper.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// Watermill levels that slog knows about map onto themselves; trace stays at
// watermill.LevelTrace.
var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger adapts a slog logger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("eventrelay: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewWatermillServiceLogger adapts a Watermill logger.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("eventrelay: watermill logger cannot be nil")
	}
	return &watermillLogger{inner: logger}
}

// NewWatermillAdapter goes the other way: it hands a ServiceLogger to the
// Watermill publishers behind the broker sinks.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("eventrelay: ServiceLogger cannot be nil")
	}
	return &watermillBridge{base: log}
}

// NewEntryServiceLogger adapts an entry-style logger. Fields are applied in
// key order so the output does not depend on map iteration.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("eventrelay: entry logger cannot be nil")
	}
	return &entryLogger[T]{entry: entry}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type watermillBridge struct {
	base ServiceLogger
}

func (b *watermillBridge) Error(msg string, err error, fields watermill.LogFields) {
	b.base.Error(msg, err, fromWatermillFields(fields))
}

func (b *watermillBridge) Info(msg string, fields watermill.LogFields) {
	b.base.Info(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) Debug(msg string, fields watermill.LogFields) {
	b.base.Debug(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) Trace(msg string, fields watermill.LogFields) {
	b.base.Trace(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillBridge{base: b.base.With(fromWatermillFields(fields))}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e *entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryLogger[T]{entry: withEntryFields(e.entry, fields)}
}

func (e *entryLogger[T]) Debug(msg string, fields LogFields) {
	withEntryFields(e.entry, fields).Debug(msg)
}

func (e *entryLogger[T]) Info(msg string, fields LogFields) {
	withEntryFields(e.entry, fields).Info(msg)
}

func (e *entryLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := withEntryFields(e.entry, fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (e *entryLogger[T]) Trace(msg string, fields LogFields) {
	withEntryFields(e.entry, fields).Trace(msg)
}

func withEntryFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	if len(fields) == 0 || any(entry) == nil {
		return entry
	}
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		entry = entry.WithField(key, fields[key])
	}
	return entry
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

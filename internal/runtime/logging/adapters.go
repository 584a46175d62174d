package logging

import (
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

// NewLogrusServiceLogger adapts a logrus logger. It is shorthand for
// NewEntryServiceLogger(logrus.NewEntry(log)).
func NewLogrusServiceLogger(log *logrus.Logger) ServiceLogger {
	if log == nil {
		panic("eventrelay: logrus logger cannot be nil")
	}
	return NewEntryServiceLogger(logrus.NewEntry(log))
}

type zerologServiceLogger struct {
	inner zerolog.Logger
}

// NewZerologServiceLogger adapts a zerolog logger. Trace maps onto zerolog's
// trace level, so it is dropped unless the logger level allows it.
func NewZerologServiceLogger(log zerolog.Logger) ServiceLogger {
	return &zerologServiceLogger{inner: log}
}

func (z *zerologServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zerologServiceLogger{inner: z.inner.With().Fields(map[string]any(fields)).Logger()}
}

func (z *zerologServiceLogger) Debug(msg string, fields LogFields) {
	withZerologFields(z.inner.Debug(), fields).Msg(msg)
}

func (z *zerologServiceLogger) Info(msg string, fields LogFields) {
	withZerologFields(z.inner.Info(), fields).Msg(msg)
}

func (z *zerologServiceLogger) Error(msg string, err error, fields LogFields) {
	withZerologFields(z.inner.Error().Err(err), fields).Msg(msg)
}

func (z *zerologServiceLogger) Trace(msg string, fields LogFields) {
	withZerologFields(z.inner.Trace(), fields).Msg(msg)
}

func withZerologFields(ev *zerolog.Event, fields LogFields) *zerolog.Event {
	if len(fields) == 0 {
		return ev
	}
	return ev.Fields(map[string]any(fields))
}

type nopLogger struct{}

// NopLogger discards everything. Useful in tests and for optional loggers.
func NopLogger() ServiceLogger { return nopLogger{} }

func (n nopLogger) With(LogFields) ServiceLogger { return n }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}
func (nopLogger) Trace(string, LogFields)        {}

// OrNop returns log, or NopLogger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return NopLogger()
	}
	return log
}

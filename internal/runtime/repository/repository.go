// Package repository holds the sinks the forwarder commits records to and the
// driver registry that builds one from configuration.
package repository

import (
	"context"
	"time"
)

// LogFields is filled when a record carries a log event, so SQL sinks can
// store it in queryable columns.
type LogFields struct {
	Level           string
	Exception       string
	RenderedMessage string
	MessageTemplate string
	TraceID         string
	SpanID          string
	Properties      map[string]any
}

// Record is one forwarded envelope.
type Record struct {
	// ID is a ULID stamped with the enqueue time.
	ID string
	// Key is stable across redeliveries of the same envelope; sinks that
	// support it use it to drop duplicates.
	Key       string
	Queue     string
	Sequence  uint64
	TypeName  string
	Payload   []byte
	CreatedAt time.Time
	Log       *LogFields
}

// Repository is a durable sink. Add must be atomic: either every record of
// the batch is stored or none is.
type Repository interface {
	// CreateTable prepares the sink. It must be idempotent.
	CreateTable(ctx context.Context) error
	Add(ctx context.Context, records []Record) error
	// TestConnection reports whether the sink is reachable.
	TestConnection(ctx context.Context) bool
	Close() error
}

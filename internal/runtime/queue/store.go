package queue

import (
	"context"
	"time"
)

// Header is the small persisted state that lets Recover resume after a crash.
type Header struct {
	Capacity  uint64
	Committed uint64
}

// DeadLetter is an envelope that was taken out of the drain path, together
// with the reason.
type DeadLetter struct {
	Sequence uint64    `json:"sequence"`
	TypeName string    `json:"type_name"`
	Payload  []byte    `json:"payload"`
	Reason   string    `json:"reason"`
	DeadAt   time.Time `json:"dead_at"`
}

// Store is the backing storage of one named queue. Records are addressed by
// ring slot. Implementations must be safe for concurrent use; the queue never
// writes the same slot concurrently.
type Store interface {
	Name() string
	// LoadHeader returns false when the queue has never been written.
	LoadHeader(ctx context.Context) (Header, bool, error)
	SaveHeader(ctx context.Context, h Header) error
	Put(ctx context.Context, slot uint64, record []byte) error
	// Get returns ErrRecordNotFound for an empty slot.
	Get(ctx context.Context, slot uint64) ([]byte, error)
	// Scan visits every stored record in slot order.
	Scan(ctx context.Context, fn func(slot uint64, record []byte) error) error
	// PutDeadLetter stores dl once per sequence. It reports false, without
	// an error, when the sequence is already in the dead-letter area.
	PutDeadLetter(ctx context.Context, dl DeadLetter) (bool, error)
	// DeadLetters lists the dead-letter area in sequence order.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
	Close() error
}

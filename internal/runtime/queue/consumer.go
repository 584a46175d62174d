package queue

import (
	"context"
	"sync"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// Consumer is the exclusive drain handle of a Queue. Release it when done;
// releasing rewinds the queue so the next consumer sees every uncommitted
// envelope.
type Consumer struct {
	q *Queue

	// position mirrors the queue read cursor; guarded by q.mu
	position uint64

	releaseOnce sync.Once
	released    bool
}

func (c *Consumer) check() error {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	if c.released || c.q.lease != c {
		return errspkg.ErrConsumerReleased
	}
	return nil
}

// Drain returns up to max envelopes after the read cursor and advances it. A
// max of zero or less drains everything available. Corrupt records are
// dead-lettered and skipped, so the batch may be shorter than the cursor
// advance; Position reports the cursor.
func (c *Consumer) Drain(ctx context.Context, max int) ([]Envelope, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.q.drain(ctx, max)
}

// Commit marks everything up to upTo as durably forwarded.
func (c *Consumer) Commit(ctx context.Context, upTo uint64) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.q.commit(ctx, upTo)
}

// Rewind resets the read cursor to the committed cursor.
func (c *Consumer) Rewind() error {
	if err := c.check(); err != nil {
		return err
	}
	c.q.rewind()
	return nil
}

// DeadLetter moves a drained envelope to the dead-letter area. It reports
// false when the envelope was already there.
func (c *Consumer) DeadLetter(ctx context.Context, env Envelope, reason error) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	return c.q.DeadLetter(ctx, env, reason)
}

// Position is the read cursor: the last sequence handed out by Drain,
// including dead-lettered ones.
func (c *Consumer) Position() uint64 {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.position
}

// Committed is the committed cursor.
func (c *Consumer) Committed() uint64 {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.q.committed
}

// Release gives the lease back and rewinds the read cursor. Safe to call
// more than once.
func (c *Consumer) Release() {
	c.releaseOnce.Do(func() {
		c.q.drainMu.Lock()
		defer c.q.drainMu.Unlock()
		c.q.mu.Lock()
		defer c.q.mu.Unlock()
		c.released = true
		if c.q.lease == c {
			c.q.lease = nil
			c.q.read = c.q.committed
		}
	})
}

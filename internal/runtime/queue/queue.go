// Package queue is a bounded, crash-resilient ring of serialized envelopes.
//
// Sequence numbers start at 1 and each cursor holds the last sequence it
// covers, so committed <= read <= write and write-committed <= capacity hold
// at all times. Sequence s lives in slot (s-1) % capacity; a slot is only
// rewritten after its previous occupant has been committed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	"github.com/drblury/eventrelay/internal/runtime/serializer"
)

// Options configures a Queue.
type Options struct {
	Capacity   int
	Serializer serializer.Serializer
	Logger     loggingpkg.ServiceLogger
	// Clock stamps EnqueuedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Stats is a point-in-time view of the cursors.
type Stats struct {
	Name      string
	Capacity  uint64
	Write     uint64
	Read      uint64
	Committed uint64
	// Depth is the number of accepted but uncommitted envelopes.
	Depth uint64
	// Rejected counts TryEnqueue calls refused because the queue was full.
	Rejected uint64
	// DeadLettered counts envelopes moved to the dead-letter area.
	DeadLettered uint64
}

// Queue is safe for concurrent producers. Draining is single-consumer: take a
// Consumer lease, or call Drain/Commit/Rewind on the queue directly while no
// lease is held.
//
// Appends are serialized by appendMu, which is held across the store write
// so that the write cursor only ever advances over stored records. Stats,
// Consumer and the cursor checks use mu, which never spans storage I/O, so
// readers are not held up by a slow append.
type Queue struct {
	store      Store
	serializer serializer.Serializer
	logger     loggingpkg.ServiceLogger
	clock      func() time.Time
	capacity   uint64

	// lock order: drainMu, appendMu, mu
	drainMu  sync.Mutex
	appendMu sync.Mutex
	mu       sync.Mutex

	write, read, committed uint64
	rejected, deadLettered uint64
	lease                  *Consumer
	closed                 bool
}

// Open recovers the queue kept in store. The store belongs to the queue from
// here on and is closed by Close.
func Open(ctx context.Context, store Store, opts Options) (*Queue, error) {
	if store == nil {
		return nil, errspkg.ErrQueueRequired
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", errspkg.ErrInvalidCapacity, opts.Capacity)
	}
	if opts.Serializer == nil {
		s, err := serializer.New(serializer.JSON, nil)
		if err != nil {
			return nil, err
		}
		opts.Serializer = s
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	q := &Queue{
		store:      store,
		serializer: opts.Serializer,
		logger:     loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"queue": store.Name()}),
		clock:      opts.Clock,
		capacity:   uint64(opts.Capacity),
	}
	if err := q.Recover(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Name is the backing storage identity.
func (q *Queue) Name() string { return q.store.Name() }

// Capacity is the maximum number of uncommitted envelopes.
func (q *Queue) Capacity() uint64 { return q.capacity }

// Serializer returns the payload strategy used by TryEnqueue.
func (q *Queue) Serializer() serializer.Serializer { return q.serializer }

func (q *Queue) slot(seq uint64) uint64 { return (seq - 1) % q.capacity }

// Recover rebuilds the cursors from storage: committed comes from the header,
// write from the highest live record and read is reset to committed, so every
// envelope written but not committed is drained again.
func (q *Queue) Recover(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	header, found, err := q.store.LoadHeader(ctx)
	if err != nil {
		return fmt.Errorf("recover %s: %w", q.Name(), err)
	}
	if !found {
		header = Header{Capacity: q.capacity}
		if err := q.store.SaveHeader(ctx, header); err != nil {
			return fmt.Errorf("recover %s: %w", q.Name(), err)
		}
	}

	write, corrupt, err := q.scan(ctx, header)
	if err != nil {
		return fmt.Errorf("recover %s: %w", q.Name(), err)
	}

	if header.Capacity != q.capacity {
		if write != header.Committed {
			return fmt.Errorf("%w: stored %d, configured %d with %d envelopes pending",
				errspkg.ErrCapacityMismatch, header.Capacity, q.capacity, write-header.Committed)
		}
		// nothing pending, so the ring can be re-laid out
		header.Capacity = q.capacity
		if err := q.store.SaveHeader(ctx, header); err != nil {
			return fmt.Errorf("recover %s: %w", q.Name(), err)
		}
	}

	q.mu.Lock()
	q.write = write
	q.read = header.Committed
	q.committed = header.Committed
	if q.lease != nil {
		q.lease.position = q.read
	}
	q.mu.Unlock()

	q.logger.Info("Queue recovered", loggingpkg.LogFields{
		"committed":       header.Committed,
		"write":           write,
		"pending":         write - header.Committed,
		"corrupt_records": corrupt,
	})
	return nil
}

// scan finds the highest live sequence. Live sequences lie in
// (committed, committed+capacity] and must sit in their own slot; anything
// else is a stale record from an earlier lap or damage.
func (q *Queue) scan(ctx context.Context, header Header) (uint64, int, error) {
	write := header.Committed
	corrupt := 0
	capacity := header.Capacity
	if capacity == 0 {
		capacity = q.capacity
	}
	err := q.store.Scan(ctx, func(slot uint64, raw []byte) error {
		env, err := decodeRecord(raw)
		if err != nil {
			corrupt++
			return nil
		}
		seq := env.Sequence
		if seq <= header.Committed {
			return nil
		}
		if seq > header.Committed+capacity || (seq-1)%capacity != slot {
			corrupt++
			return nil
		}
		write = max(write, seq)
		return nil
	})
	return write, corrupt, err
}

// TryEnqueue serializes payload and appends it. It returns false, without an
// error, when the queue is full. Errors are reserved for serialization and
// storage failures.
func (q *Queue) TryEnqueue(ctx context.Context, payload any) (bool, error) {
	data, typeName, err := q.serializer.Serialize(payload)
	if err != nil {
		return false, err
	}
	return q.TryEnqueueRaw(ctx, typeName, data)
}

// TryEnqueueRaw appends an already serialized payload. Concurrent callers
// take turns: each one holds the append lock for a single store write.
func (q *Queue) TryEnqueueRaw(ctx context.Context, typeName string, data []byte) (bool, error) {
	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, errspkg.ErrQueueClosed
	}
	if q.write-q.committed >= q.capacity {
		q.rejected++
		q.mu.Unlock()
		return false, nil
	}
	seq := q.write + 1
	q.mu.Unlock()

	record, err := encodeRecord(Envelope{
		Sequence:   seq,
		EnqueuedAt: q.clock(),
		TypeName:   typeName,
		Payload:    data,
	})
	if err != nil {
		return false, err
	}
	if err := q.store.Put(ctx, q.slot(seq), record); err != nil {
		return false, fmt.Errorf("enqueue %d: %w", seq, err)
	}

	q.mu.Lock()
	q.write = seq
	q.mu.Unlock()
	return true, nil
}

// Enqueue is the typed form of TryEnqueue.
func Enqueue[T any](ctx context.Context, q *Queue, payload T) (bool, error) {
	return q.TryEnqueue(ctx, payload)
}

// Consumer takes the single drain lease. A second call while a lease is held
// returns ErrConsumerActive.
func (q *Queue) Consumer() (*Consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errspkg.ErrQueueClosed
	}
	if q.lease != nil {
		return nil, errspkg.ErrConsumerActive
	}
	c := &Consumer{q: q, position: q.read}
	q.lease = c
	return c, nil
}

// Drain returns up to max envelopes after the read cursor and advances it.
// It fails with ErrConsumerActive while a Consumer lease is held.
func (q *Queue) Drain(ctx context.Context, max int) ([]Envelope, error) {
	if err := q.checkUnleased(); err != nil {
		return nil, err
	}
	return q.drain(ctx, max)
}

// Commit advances the committed cursor to upTo, freeing the slots below it.
func (q *Queue) Commit(ctx context.Context, upTo uint64) error {
	if err := q.checkUnleased(); err != nil {
		return err
	}
	return q.commit(ctx, upTo)
}

// Rewind resets the read cursor to the committed cursor so the uncommitted
// region is drained again.
func (q *Queue) Rewind() error {
	if err := q.checkUnleased(); err != nil {
		return err
	}
	q.rewind()
	return nil
}

func (q *Queue) checkUnleased() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lease != nil {
		return errspkg.ErrConsumerActive
	}
	return nil
}

func (q *Queue) drain(ctx context.Context, max int) ([]Envelope, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errspkg.ErrQueueClosed
	}
	read, write := q.read, q.write
	q.mu.Unlock()

	end := write
	if max > 0 && read+uint64(max) < write {
		end = read + uint64(max)
	}
	if end == read {
		return nil, nil
	}

	batch := make([]Envelope, 0, end-read)
	for seq := read + 1; seq <= end; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env, err := q.load(ctx, seq)
		if err == nil {
			batch = append(batch, env)
			continue
		}
		if !errors.Is(err, errspkg.ErrCorruptRecord) && !errors.Is(err, errspkg.ErrRecordNotFound) {
			return nil, err
		}
		if _, err := q.deadLetterSlot(ctx, seq, err); err != nil {
			return nil, err
		}
	}

	// the cursor only moves once the whole batch was read
	q.mu.Lock()
	q.read = end
	if q.lease != nil {
		q.lease.position = end
	}
	q.mu.Unlock()
	return batch, nil
}

func (q *Queue) load(ctx context.Context, seq uint64) (Envelope, error) {
	raw, err := q.store.Get(ctx, q.slot(seq))
	if err != nil {
		return Envelope{}, err
	}
	env, err := decodeRecord(raw)
	if err != nil {
		return Envelope{}, err
	}
	if env.Sequence != seq {
		return Envelope{}, fmt.Errorf("%w: slot holds sequence %d, want %d", errspkg.ErrCorruptRecord, env.Sequence, seq)
	}
	return env, nil
}

func (q *Queue) deadLetterSlot(ctx context.Context, seq uint64, cause error) (bool, error) {
	raw, _ := q.store.Get(ctx, q.slot(seq))
	return q.putDeadLetter(ctx, DeadLetter{
		Sequence: seq,
		Payload:  raw,
		Reason:   cause.Error(),
		DeadAt:   q.clock(),
	})
}

// DeadLetter moves a drained envelope to the dead-letter area, for example
// when its payload cannot be decoded. Committing past it frees its slot.
// An envelope that is drained again after a Rewind is stored once: the
// second call reports false and leaves the counters alone.
func (q *Queue) DeadLetter(ctx context.Context, env Envelope, reason error) (bool, error) {
	msg := "rejected"
	if reason != nil {
		msg = reason.Error()
	}
	return q.putDeadLetter(ctx, DeadLetter{
		Sequence: env.Sequence,
		TypeName: env.TypeName,
		Payload:  env.Payload,
		Reason:   msg,
		DeadAt:   q.clock(),
	})
}

func (q *Queue) putDeadLetter(ctx context.Context, dl DeadLetter) (bool, error) {
	added, err := q.store.PutDeadLetter(ctx, dl)
	if err != nil {
		return false, fmt.Errorf("dead-letter %d: %w", dl.Sequence, err)
	}
	if !added {
		return false, nil
	}
	q.mu.Lock()
	q.deadLettered++
	q.mu.Unlock()
	q.logger.Error("Envelope dead-lettered", errors.New(dl.Reason), loggingpkg.LogFields{
		"sequence":  dl.Sequence,
		"type_name": dl.TypeName,
	})
	return true, nil
}

// DeadLetters lists every dead-lettered envelope in sequence order.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return q.store.DeadLetters(ctx)
}

func (q *Queue) commit(ctx context.Context, upTo uint64) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errspkg.ErrQueueClosed
	}
	committed, read := q.committed, q.read
	q.mu.Unlock()

	if upTo <= committed {
		return nil
	}
	if upTo > read {
		return fmt.Errorf("%w: %d is past the read cursor %d", errspkg.ErrCommitOutOfRange, upTo, read)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.store.SaveHeader(ctx, Header{Capacity: q.capacity, Committed: upTo}); err != nil {
		return fmt.Errorf("commit %d: %w", upTo, err)
	}

	q.mu.Lock()
	q.committed = upTo
	q.mu.Unlock()
	return nil
}

func (q *Queue) rewind() {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.read = q.committed
	if q.lease != nil {
		q.lease.position = q.read
	}
}

// Stats returns the current cursors. It never blocks on storage.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:         q.store.Name(),
		Capacity:     q.capacity,
		Write:        q.write,
		Read:         q.read,
		Committed:    q.committed,
		Depth:        q.write - q.committed,
		Rejected:     q.rejected,
		DeadLettered: q.deadLettered,
	}
}

// Close stops the queue and closes its store. Uncommitted envelopes stay in
// storage for the next Open.
func (q *Queue) Close() error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.store.Close()
}

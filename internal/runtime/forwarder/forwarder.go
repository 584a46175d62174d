// Package forwarder moves envelopes from the durable queue into a
// repository. A batch is committed on the queue only after the repository
// accepted it, so a crash in between redelivers the batch rather than losing
// it.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	"github.com/drblury/eventrelay/internal/runtime/queue"
	"github.com/drblury/eventrelay/internal/runtime/repository"
)

const (
	DefaultBatchSize        = 100
	DefaultIdleInterval     = 250 * time.Millisecond
	DefaultMaxIdleInterval  = 5 * time.Second
	DefaultMaxAttempts      = 5
	DefaultRetryInterval    = 100 * time.Millisecond
	DefaultMaxRetryInterval = 5 * time.Second
)

// Options configures a Forwarder. Zero values select the defaults.
type Options struct {
	BatchSize int
	// IdleInterval is the first pause after an empty drain; consecutive
	// empty drains double it up to MaxIdleInterval.
	IdleInterval    time.Duration
	MaxIdleInterval time.Duration
	// MaxAttempts is the number of Add calls made for one batch before the
	// repository is probed.
	MaxAttempts      int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	// ValidatePayloads deserializes every envelope before forwarding and
	// dead-letters the ones that fail.
	ValidatePayloads bool
	Logger           loggingpkg.ServiceLogger

	EnableMetrics bool
	Registerer    prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.MaxIdleInterval < o.IdleInterval {
		o.MaxIdleInterval = max(DefaultMaxIdleInterval, o.IdleInterval)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetryInterval < o.RetryInterval {
		o.MaxRetryInterval = max(DefaultMaxRetryInterval, o.RetryInterval)
	}
	return o
}

// Stats are cumulative counters since New.
type Stats struct {
	Forwarded    uint64
	Batches      uint64
	AddFailures  uint64
	DeadLettered uint64
}

// Forwarder drains one queue into one repository.
type Forwarder struct {
	q       *queue.Queue
	repo    repository.Repository
	opts    Options
	logger  loggingpkg.ServiceLogger
	metrics *counters

	forwarded    atomic.Uint64
	batches      atomic.Uint64
	addFailures  atomic.Uint64
	deadLettered atomic.Uint64

	prepareMu sync.Mutex
	prepared  bool
}

// New returns a Forwarder. Nothing is drained until Run or Flush.
func New(q *queue.Queue, repo repository.Repository, opts Options) (*Forwarder, error) {
	if q == nil {
		return nil, errspkg.ErrQueueRequired
	}
	if repo == nil {
		return nil, errspkg.ErrRepositoryRequired
	}
	opts = opts.withDefaults()
	f := &Forwarder{
		q:      q,
		repo:   repo,
		opts:   opts,
		logger: loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"component": "forwarder", "queue": q.Name()}),
	}
	if opts.EnableMetrics {
		c, err := newCounters(opts.Registerer, q.Name())
		if err != nil {
			return nil, err
		}
		f.metrics = c
	}
	return f, nil
}

// Stats returns a copy of the counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Forwarded:    f.forwarded.Load(),
		Batches:      f.batches.Load(),
		AddFailures:  f.addFailures.Load(),
		DeadLettered: f.deadLettered.Load(),
	}
}

// Run forwards until ctx is cancelled, which returns nil. It returns an
// error wrapping ErrRepositoryUnavailable when the repository cannot be
// reached at start or after a batch exhausted its attempts, and any other
// error that prevents forwarding. Uncommitted envelopes are redelivered to
// the next Run.
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.prepare(ctx); err != nil {
		return err
	}
	consumer, err := f.q.Consumer()
	if err != nil {
		return fmt.Errorf("forwarder: %w", err)
	}
	defer consumer.Release()

	idle := f.idleBackOff()
	f.logger.Info("Forwarder started", nil)
	defer f.logger.Info("Forwarder stopped", nil)

	for {
		n, err := f.forwardBatch(ctx, consumer)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, errspkg.ErrRepositoryUnavailable),
			errors.Is(err, errspkg.ErrQueueClosed),
			errors.Is(err, errspkg.ErrConsumerReleased):
			return err
		case err != nil:
			f.logger.Error("Batch not forwarded, will retry", err, nil)
		case n > 0:
			idle.Reset()
			continue
		}
		if !sleep(ctx, idle.NextBackOff()) {
			return nil
		}
	}
}

// Flush forwards until the queue is empty. It is meant for shutdown, after
// Run returned, and fails with ErrConsumerActive while Run holds the queue.
func (f *Forwarder) Flush(ctx context.Context) (int, error) {
	if err := f.prepare(ctx); err != nil {
		return 0, err
	}
	consumer, err := f.q.Consumer()
	if err != nil {
		return 0, fmt.Errorf("forwarder flush: %w", err)
	}
	defer consumer.Release()

	total := 0
	for {
		n, err := f.forwardBatch(ctx, consumer)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (f *Forwarder) prepare(ctx context.Context) error {
	f.prepareMu.Lock()
	defer f.prepareMu.Unlock()
	if f.prepared {
		return nil
	}
	if !f.repo.TestConnection(ctx) {
		return errspkg.ErrRepositoryUnavailable
	}
	if err := f.repo.CreateTable(ctx); err != nil {
		return fmt.Errorf("forwarder: prepare repository: %w", err)
	}
	f.prepared = true
	return nil
}

// forwardBatch drains one batch, stores it and commits it. It returns how
// far the read cursor moved, dead-lettered envelopes included.
func (f *Forwarder) forwardBatch(ctx context.Context, c *queue.Consumer) (int, error) {
	start := c.Committed()
	envs, err := c.Drain(ctx, f.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("drain: %w", err)
	}
	position := c.Position()
	if position == start {
		return 0, nil
	}

	began := time.Now()
	records := f.records(ctx, c, envs)
	if len(records) > 0 {
		if err := f.add(ctx, records); err != nil {
			if rerr := c.Rewind(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return 0, err
		}
	}
	if err := c.Commit(ctx, position); err != nil {
		// the repository has the records; the next run redelivers them and
		// the sink drops the duplicates
		_ = c.Rewind()
		return 0, fmt.Errorf("commit %d: %w", position, err)
	}

	f.forwarded.Add(uint64(len(records)))
	f.batches.Add(1)
	f.metrics.batch(len(records), time.Since(began))
	f.logger.Debug("Batch forwarded", loggingpkg.LogFields{
		"records":  len(records),
		"position": position,
	})
	return int(position - start), nil
}

// add stores records, retrying with exponential backoff. Once MaxAttempts
// calls failed the repository is probed: unreachable yields
// ErrRepositoryUnavailable, reachable yields the last Add error.
func (f *Forwarder) add(ctx context.Context, records []repository.Record) error {
	attempts := 0
	op := func() error {
		attempts++
		return f.repo.Add(ctx, records)
	}
	notify := func(err error, wait time.Duration) {
		f.addFailures.Add(1)
		f.metrics.failure()
		f.logger.Error("Repository rejected batch", err, loggingpkg.LogFields{
			"attempt": attempts,
			"retry":   wait.String(),
		})
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(f.retryBackOff(), uint64(f.opts.MaxAttempts-1)), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// RetryNotify does not notify the final failure
	f.addFailures.Add(1)
	f.metrics.failure()
	if !f.repo.TestConnection(ctx) {
		return fmt.Errorf("%w: %d attempts failed: %v", errspkg.ErrRepositoryUnavailable, attempts, err)
	}
	return fmt.Errorf("add %d records after %d attempts: %w", len(records), attempts, err)
}

// records converts envelopes, dead-lettering the ones that cannot be decoded.
func (f *Forwarder) records(ctx context.Context, c *queue.Consumer, envs []queue.Envelope) []repository.Record {
	out := make([]repository.Record, 0, len(envs))
	for _, env := range envs {
		rec, err := f.record(env)
		if err != nil {
			f.deadLetter(ctx, c, env, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (f *Forwarder) record(env queue.Envelope) (repository.Record, error) {
	rec := repository.Record{
		ID:        ids.CreateULIDAt(env.EnqueuedAt),
		Key:       fmt.Sprintf("%s/%d", f.q.Name(), env.Sequence),
		Queue:     f.q.Name(),
		Sequence:  env.Sequence,
		TypeName:  env.TypeName,
		Payload:   env.Payload,
		CreatedAt: env.EnqueuedAt,
	}
	if env.TypeName != loggingpkg.LogEventTypeName && !f.opts.ValidatePayloads {
		return rec, nil
	}

	payload, err := f.q.Serializer().Deserialize(env.Payload, env.TypeName)
	if err != nil {
		return rec, err
	}
	if ev, ok := payload.(loggingpkg.LogEvent); ok {
		rec.Log = &repository.LogFields{
			Level:           ev.Level,
			Exception:       ev.Exception,
			RenderedMessage: ev.RenderedMessage,
			MessageTemplate: ev.MessageTemplate,
			TraceID:         ev.TraceID,
			SpanID:          ev.SpanID,
			Properties:      ev.Properties,
		}
		if !ev.Timestamp.IsZero() {
			rec.CreatedAt = ev.Timestamp
		}
	}
	return rec, nil
}

// deadLetter runs again for the same envelope when a failed batch is
// redrained; only the first call counts.
func (f *Forwarder) deadLetter(ctx context.Context, c *queue.Consumer, env queue.Envelope, cause error) {
	fields := loggingpkg.LogFields{"sequence": env.Sequence, "type_name": env.TypeName}
	added, err := c.DeadLetter(ctx, env, cause)
	if err != nil {
		f.logger.Error("Failed to dead-letter envelope", errors.Join(cause, err), fields)
		return
	}
	if !added {
		return
	}
	f.deadLettered.Add(1)
	f.metrics.deadLetter()
	f.logger.Error("Envelope dead-lettered", cause, fields)
}

func (f *Forwarder) idleBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.IdleInterval
	b.MaxInterval = f.opts.MaxIdleInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (f *Forwarder) retryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.RetryInterval
	b.MaxInterval = f.opts.MaxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

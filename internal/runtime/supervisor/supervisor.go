// Package supervisor keeps long-running workers alive. A Supervisor rebuilds
// and restarts its worker after every failure until the context ends; a
// Host runs several supervisors together.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// DefaultCooldown is the pause between restarts when Options leaves both
// Cooldown and BackOff unset.
const DefaultCooldown = 5 * time.Second

// Worker is one unit of long-running work. Returning nil means the work is
// finished; returning an error asks for a restart.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

// Factory builds a fresh worker for every attempt. An error from the factory
// is fatal and stops the supervisor.
type Factory func(ctx context.Context) (Worker, error)

// Readiness gates the first attempt.
type Readiness interface {
	Ready() <-chan struct{}
}

// State is where a supervisor is in its lifecycle.
type State string

const (
	StateWaiting     State = "waiting"
	StateRunning     State = "running"
	StateCoolingDown State = "cooling_down"
	StateStopped     State = "stopped"
)

// Status is a point-in-time view of a supervisor.
type Status struct {
	Name      string
	State     State
	Attempts  int
	Failures  int
	LastError error
}

// Options configures a Supervisor.
type Options struct {
	// Readiness delays the first attempt until it fires. Nil starts at once.
	Readiness Readiness
	// Cooldown is the constant pause between restarts.
	Cooldown time.Duration
	// BackOff replaces Cooldown, for example with an exponential policy. It
	// is reset before the first attempt. Returning backoff.Stop ends the
	// supervisor with the last worker error.
	BackOff backoff.BackOff
	Logger  loggingpkg.ServiceLogger

	EnableMetrics bool
	Registerer    prometheus.Registerer
}

// Supervisor restarts one worker.
type Supervisor struct {
	name    string
	factory Factory
	ready   Readiness
	backoff backoff.BackOff
	logger  loggingpkg.ServiceLogger
	metrics *counters

	mu     sync.Mutex
	status Status
}

// New validates its arguments. The supervisor does nothing until Run.
func New(name string, factory Factory, opts Options) (*Supervisor, error) {
	if name == "" {
		return nil, fmt.Errorf("supervisor name is required")
	}
	if factory == nil {
		return nil, errspkg.ErrWorkerFactoryRequired
	}
	b := opts.BackOff
	if b == nil {
		cooldown := opts.Cooldown
		if cooldown <= 0 {
			cooldown = DefaultCooldown
		}
		b = backoff.NewConstantBackOff(cooldown)
	}
	s := &Supervisor{
		name:    name,
		factory: factory,
		ready:   opts.Readiness,
		backoff: b,
		logger:  loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"worker": name}),
		status:  Status{Name: name, State: StateWaiting},
	}
	if opts.EnableMetrics {
		c, err := newCounters(opts.Registerer, name)
		if err != nil {
			return nil, err
		}
		s.metrics = c
	}
	return s, nil
}

// Name returns the supervisor name.
func (s *Supervisor) Name() string { return s.name }

// Status returns a snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *Supervisor) setState(state State) {
	s.update(func(st *Status) { st.State = state })
}

// Run supervises until ctx is cancelled or the worker finishes, both of
// which return nil. A factory error is returned wrapped in ErrFatalStartup.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	if s.ready != nil {
		s.setState(StateWaiting)
		select {
		case <-ctx.Done():
			return nil
		case <-s.ready.Ready():
		}
	}

	s.backoff.Reset()
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.update(func(st *Status) { st.Attempts++ })

		worker, err := s.factory(ctx)
		if err != nil {
			s.logger.Error("Worker could not be built", err, nil)
			return fmt.Errorf("%w: %s: %w", errspkg.ErrFatalStartup, s.name, err)
		}

		s.setState(StateRunning)
		err = s.runWorker(ctx, worker)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			s.logger.Info("Worker finished", nil)
			return nil
		}

		s.update(func(st *Status) {
			st.Failures++
			st.LastError = err
			st.State = StateCoolingDown
		})
		s.metrics.restart()

		wait := s.backoff.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("Worker failed, giving up", err, nil)
			return fmt.Errorf("supervisor %s: %w", s.name, err)
		}
		s.logger.Error("Worker failed, restarting", err, loggingpkg.LogFields{"cooldown": wait.String()})

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Supervisor) runWorker(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errspkg.ErrWorkerPanic, r)
		}
	}()
	return w.Run(ctx)
}

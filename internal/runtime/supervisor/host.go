package supervisor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// Host runs a set of named supervisors. Supervisors added without their own
// Readiness wait for the host's StartedSignal, which fires once every
// supervisor goroutine has been launched.
type Host struct {
	logger  loggingpkg.ServiceLogger
	started *StartedSignal

	mu          sync.Mutex
	supervisors []*Supervisor
	running     bool
}

func NewHost(logger loggingpkg.ServiceLogger) *Host {
	return &Host{
		logger:  loggingpkg.OrNop(logger),
		started: NewStartedSignal(),
	}
}

// Started fires once Run launched every supervisor.
func (h *Host) Started() *StartedSignal { return h.started }

// Add registers a supervisor. Names must be unique and Add fails once Run
// has been called.
func (h *Host) Add(name string, factory Factory, opts Options) (*Supervisor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil, errspkg.ErrHostStarted
	}
	for _, s := range h.supervisors {
		if s.name == name {
			return nil, fmt.Errorf("%w: %s", errspkg.ErrSupervisorExists, name)
		}
	}
	if opts.Readiness == nil {
		opts.Readiness = h.started
	}
	if opts.Logger == nil {
		opts.Logger = h.logger
	}
	s, err := New(name, factory, opts)
	if err != nil {
		return nil, err
	}
	h.supervisors = append(h.supervisors, s)
	return s, nil
}

// Run starts every supervisor and blocks until all of them returned. The
// first error cancels the others and is returned. Run may be called once.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errspkg.ErrHostStarted
	}
	h.running = true
	supervisors := append([]*Supervisor(nil), h.supervisors...)
	h.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range supervisors {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	h.started.Fire()
	h.logger.Info("Host started", loggingpkg.LogFields{"workers": len(supervisors)})

	err := g.Wait()
	if err != nil {
		h.logger.Error("Host stopped", err, nil)
	} else {
		h.logger.Info("Host stopped", nil)
	}
	return err
}

// Statuses lists supervisor statuses in registration order.
func (h *Host) Statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, len(h.supervisors))
	for i, s := range h.supervisors {
		out[i] = s.Status()
	}
	return out
}

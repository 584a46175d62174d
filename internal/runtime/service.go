package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/eventrelay/internal/runtime/config"
	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/forwarder"
	"github.com/drblury/eventrelay/internal/runtime/hub"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	"github.com/drblury/eventrelay/internal/runtime/monitor"
	"github.com/drblury/eventrelay/internal/runtime/queue"
	"github.com/drblury/eventrelay/internal/runtime/repository"
	"github.com/drblury/eventrelay/internal/runtime/serializer"
	"github.com/drblury/eventrelay/internal/runtime/supervisor"
)

// Hub events published when the queue crosses the monitor threshold. The
// payload is the monitor.Snapshot that caused the change.
const (
	EventBackpressure        = "queue.backpressure"
	EventBackpressureCleared = "queue.backpressure.cleared"
)

// Supervisor names used by the Service.
const (
	WorkerForwarder = "forwarder"
	WorkerMonitor   = "monitor"
)

// NamedWorker is an extra worker supervised next to the forwarder and the
// monitor.
type NamedWorker struct {
	Name    string
	Factory supervisor.Factory
	Options supervisor.Options
}

// ServiceDependencies holds the optional collaborators of a Service. Leave a
// field nil to build it from the configuration.
type ServiceDependencies struct {
	// Types holds the payload types the queue can carry. LogEvent is added
	// to it.
	Types *serializer.TypeRegistry
	// Store replaces the store selected by QueueBackend.
	Store queue.Store
	// Repository replaces the sink selected by RepositoryDriver. The Service
	// closes it on Close either way.
	Repository repository.Repository
	Workers    []NamedWorker
	// Registerer receives every collector when metrics are enabled; nil
	// selects the Prometheus default registerer.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint. Defaults to Registerer when it
	// is a *prometheus.Registry, else to the default gatherer.
	Gatherer prometheus.Gatherer
	Clock    func() time.Time
}

// Service wires the hub, the durable queue, its monitor, the forwarder and
// the repository, and supervises the long-running parts.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	types      *serializer.TypeRegistry
	serializer serializer.Serializer
	hub        *hub.Hub
	queue      *queue.Queue
	repo       repository.Repository
	host       *supervisor.Host

	monitorOpts monitor.Options
	monitor     atomic.Pointer[monitor.Monitor]

	forwarderOpts forwarder.Options
	forwarder     atomic.Pointer[forwarder.Forwarder]

	relayMetrics    *RelayMetrics
	resourceTracker *resourceTracker
	registerer      prometheus.Registerer
	gatherer        prometheus.Gatherer
	healthMetrics   *prometheus.Registry

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewService validates conf and builds every component. The queue is
// recovered from its store before NewService returns. Call Start to run the
// workers and Close to release everything.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	log.Info("Creating event relay service", loggingpkg.LogFields{
		"queue":      c.QueueName,
		"backend":    c.QueueBackend,
		"repository": c.RepositoryDriver,
		"config":     c,
	})

	s := &Service{
		Conf:            &c,
		Logger:          log,
		types:           deps.Types,
		resourceTracker: newResourceTracker(),
		registerer:      deps.Registerer,
		gatherer:        deps.Gatherer,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		if g, ok := s.registerer.(prometheus.Gatherer); ok {
			s.gatherer = g
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}

	var cleanup []func() error
	fail := func(err error) (*Service, error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
		return nil, err
	}

	if err := s.buildCodec(); err != nil {
		return fail(err)
	}
	if err := s.buildHub(); err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, s.hub.Close)

	store := deps.Store
	if store == nil {
		var err error
		if store, err = openStore(&c); err != nil {
			return fail(err)
		}
	}
	q, err := queue.Open(ctx, store, queue.Options{
		Capacity:   c.QueueCapacity,
		Serializer: s.serializer,
		Logger:     log,
		Clock:      deps.Clock,
	})
	if err != nil {
		_ = store.Close()
		return fail(fmt.Errorf("open queue %s: %w", c.QueueName, err))
	}
	s.queue = q
	cleanup = append(cleanup, q.Close)

	s.monitorOpts = monitor.Options{
		Interval:      c.MonitorInterval,
		Threshold:     c.MonitorThreshold,
		OnChange:      s.onBackpressure,
		Logger:        log,
		EnableMetrics: c.EnableMetrics,
		Registerer:    s.registerer,
		Clock:         deps.Clock,
	}
	m, err := monitor.New(q, s.monitorOpts)
	if err != nil {
		return fail(err)
	}
	s.monitor.Store(m)

	s.repo = deps.Repository
	if s.repo == nil {
		if s.repo, err = repository.Build(ctx, &c, log); err != nil {
			return fail(err)
		}
	}
	cleanup = append(cleanup, s.repo.Close)

	s.forwarderOpts = forwarder.Options{
		BatchSize:        c.ForwardBatchSize,
		IdleInterval:     c.ForwardIdleInterval,
		MaxIdleInterval:  c.ForwardMaxIdleInterval,
		MaxAttempts:      c.ForwardMaxAttempts,
		ValidatePayloads: c.ValidatePayloads,
		Logger:           log,
		EnableMetrics:    c.EnableMetrics,
		Registerer:       s.registerer,
	}

	if s.relayMetrics, err = NewRelayMetrics(s.registerer, c.EnableMetrics); err != nil {
		return fail(err)
	}
	if err := s.buildHost(deps.Workers); err != nil {
		return fail(err)
	}
	if err := s.hub.SubscribeToAll(s.logEvent); err != nil {
		return fail(err)
	}
	s.registerHTTPEndpoints()

	return s, nil
}

func (s *Service) buildCodec() error {
	if s.types == nil {
		s.types = serializer.NewTypeRegistry()
	}
	if err := loggingpkg.RegisterLogEvent(s.types); err != nil {
		return err
	}
	ser, err := serializer.New(s.Conf.Serializer, s.types)
	if err != nil {
		return err
	}
	s.serializer = ser
	return nil
}

func (s *Service) buildHub() error {
	opts := hub.Options{
		EnableMetrics: s.Conf.EnableMetrics,
		MetricsName:   s.Conf.MetricsName,
		Parallel:      s.Conf.ParallelHandlers,
		ErrorHandler: func(ctx context.Context, err *hub.HandlerError) {
			s.Logger.Error("Event handler failed", err, loggingpkg.LogFields{"event": err.Event})
		},
	}
	if s.Conf.EnableMetrics {
		m, err := hub.NewPrometheusMetrics(s.registerer, s.Conf.MetricsName)
		if err != nil {
			return err
		}
		opts.Metrics = m
	}
	h, err := hub.New(s.Logger, opts)
	if err != nil {
		return err
	}
	s.hub = h
	return nil
}

func (s *Service) buildHost(extra []NamedWorker) error {
	s.host = supervisor.NewHost(s.Logger)
	opts := supervisor.Options{
		Cooldown:      s.Conf.WorkerCooldown,
		EnableMetrics: s.Conf.EnableMetrics,
		Registerer:    s.registerer,
	}
	if _, err := s.host.Add(WorkerForwarder, s.newForwarderWorker, opts); err != nil {
		return err
	}
	if _, err := s.host.Add(WorkerMonitor, s.newMonitorWorker, opts); err != nil {
		return err
	}
	for _, w := range extra {
		if _, err := s.host.Add(w.Name, w.Factory, w.Options); err != nil {
			return err
		}
	}
	return nil
}

// newForwarderWorker builds a fresh forwarder for every supervised attempt.
func (s *Service) newForwarderWorker(context.Context) (supervisor.Worker, error) {
	f, err := forwarder.New(s.queue, s.repo, s.forwarderOpts)
	if err != nil {
		return nil, err
	}
	s.forwarder.Store(f)
	return f, nil
}

// newMonitorWorker builds a fresh monitor for every supervised attempt. It
// resumes from the last sample of the monitor it replaces.
func (s *Service) newMonitorWorker(context.Context) (supervisor.Worker, error) {
	last := s.Monitor().Snapshot()
	opts := s.monitorOpts
	opts.Previous = &last
	m, err := monitor.New(s.queue, opts)
	if err != nil {
		return nil, err
	}
	s.monitor.Store(m)
	return m, nil
}

func openStore(c *configpkg.Config) (queue.Store, error) {
	switch strings.ToLower(c.QueueBackend) {
	case "memory":
		return queue.NewMemoryStore(c.QueueName), nil
	case "sqlite":
		return queue.NewSQLiteStore(c.QueuePath, c.QueueName)
	default:
		return queue.NewBoltStore(c.QueuePath, c.QueueName)
	}
}

func (s *Service) onBackpressure(ctx context.Context, snap monitor.Snapshot) {
	event := EventBackpressureCleared
	if snap.OverThreshold {
		event = EventBackpressure
	}
	s.Logger.Info("Queue backpressure changed", loggingpkg.LogFields{
		"event":        event,
		"depth":        snap.Depth,
		"capacity":     snap.Capacity,
		"percent_full": snap.PercentFull,
	})
	if err := hub.PublishNamed(ctx, s.hub, event, snap); err != nil && !errors.Is(err, errspkg.ErrHubClosed) {
		s.Logger.Error("Failed to publish backpressure event", err, loggingpkg.LogFields{"event": event})
	}
}

func (s *Service) logEvent(_ context.Context, event string) error {
	s.Logger.Debug("Event published", loggingpkg.LogFields{"event": event})
	return nil
}

// Hub returns the in-process event hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Queue returns the durable queue.
func (s *Service) Queue() *queue.Queue { return s.queue }

// Monitor returns the queue monitor of the current supervised attempt.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor.Load() }

// Repository returns the forwarding sink.
func (s *Service) Repository() repository.Repository { return s.repo }

// Host returns the supervisor host.
func (s *Service) Host() *supervisor.Host { return s.host }

// Types returns the payload type registry. Register payload types on it
// before enqueueing them.
func (s *Service) Types() *serializer.TypeRegistry { return s.types }

// QueueLogger wraps the service logger so error entries are also enqueued
// and forwarded as log events.
func (s *Service) QueueLogger(opts ...loggingpkg.QueueLoggerOption) *loggingpkg.QueueLogger {
	return loggingpkg.NewQueueLogger(s.Logger, s.queue, opts...)
}

// ForwarderStats reports the counters of the current forwarder.
func (s *Service) ForwarderStats() forwarder.Stats {
	if f := s.forwarder.Load(); f != nil {
		return f.Stats()
	}
	return forwarder.Stats{}
}

// Start runs the HTTP endpoints and every supervisor until ctx is cancelled
// or a supervisor fails fatally.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers(ctx)
	return s.host.Run(ctx)
}

// Close forwards what is left in the queue, then closes the hub, the queue
// and the repository. Call it after Start returned.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error

		f, err := forwarder.New(s.queue, s.repo, s.forwarderOpts)
		if err == nil {
			var n int
			n, err = f.Flush(ctx)
			if n > 0 {
				s.Logger.Info("Flushed queue on shutdown", loggingpkg.LogFields{"envelopes": n})
			}
		}
		if err != nil {
			s.Logger.Error("Failed to flush queue on shutdown", err, nil)
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}

		errs = append(errs, s.stopHTTPServers(ctx))
		errs = append(errs, s.hub.Close(), s.queue.Close(), s.repo.Close())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

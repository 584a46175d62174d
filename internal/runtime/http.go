package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

const (
	shutdownTimeout    = 5 * time.Second
	probeTimeout       = 2 * time.Second
	maxGoroutinesAlive = 10000
)

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with Start; handlers registered afterwards are not served.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) registerHTTPEndpoints() {
	gatherer := s.gatherer
	if s.Conf.EnableMetrics && s.Conf.HealthPort != 0 {
		// healthcheck registers its gauges with MustRegister, so each service
		// keeps them in a registry of its own.
		s.healthMetrics = prometheus.NewRegistry()
		gatherer = prometheus.Gatherers{s.gatherer, s.healthMetrics}
	}
	if port := s.Conf.MetricsPort; port != 0 {
		s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}
	if port := s.Conf.HealthPort; port != 0 {
		health := s.healthHandler()
		s.RegisterHTTPHandler(port, "/live", http.HandlerFunc(health.LiveEndpoint))
		s.RegisterHTTPHandler(port, "/ready", http.HandlerFunc(health.ReadyEndpoint))
		s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
	}
}

// healthHandler reports not ready while the queue is over its backpressure
// threshold or the repository cannot be reached.
func (s *Service) healthHandler() healthcheck.Handler {
	var health healthcheck.Handler
	if s.healthMetrics != nil {
		health = healthcheck.NewMetricsHandler(s.healthMetrics, metricNamespace(s.Conf.MetricsName))
	} else {
		health = healthcheck.NewHandler()
	}
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutinesAlive))
	health.AddReadinessCheck("queue-backpressure", func() error { return s.Monitor().HealthCheck() })
	health.AddReadinessCheck("repository", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if !s.repo.TestConnection(ctx) {
			return errors.New("repository unreachable")
		}
		return nil
	}, probeTimeout))
	return health
}

func (s *Service) startHTTPServers(ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers(ctx context.Context) error {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}

// metricNamespace maps a free-form name onto the characters Prometheus
// accepts in a namespace.
func metricNamespace(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

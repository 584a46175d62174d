// Package monitor samples queue utilization and raises a backpressure flag
// once it crosses a configured fraction of capacity. It only reads queue
// statistics.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	"github.com/drblury/eventrelay/internal/runtime/queue"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 0.8
)

// StatsSource is anything that reports queue statistics. *queue.Queue
// satisfies it.
type StatsSource interface {
	Stats() queue.Stats
}

// Snapshot is one utilization sample.
type Snapshot struct {
	Name          string
	Depth         uint64
	Capacity      uint64
	PercentFull   float64
	OverThreshold bool
	// Rejected counts enqueue attempts refused while the queue was full.
	Rejected  uint64
	SampledAt time.Time
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// Threshold is the fill fraction in (0, 1] at which the queue counts as
	// over threshold.
	Threshold float64
	// OnChange is called whenever OverThreshold flips, from the sampling
	// goroutine.
	OnChange func(ctx context.Context, snap Snapshot)
	Logger   loggingpkg.ServiceLogger
	// Previous seeds transition detection with the last sample of a monitor
	// this one replaces, so a restart neither repeats nor misses a change.
	Previous *Snapshot

	EnableMetrics bool
	// Registerer receives the gauges; nil selects the default registerer.
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

// Monitor periodically samples a StatsSource.
type Monitor struct {
	source    StatsSource
	interval  time.Duration
	threshold float64
	onChange  func(ctx context.Context, snap Snapshot)
	logger    loggingpkg.ServiceLogger
	gauges    *gauges
	clock     func() time.Time

	mu      sync.RWMutex
	last    Snapshot
	sampled bool
}

// New validates opts and returns a Monitor. Nothing is sampled until Run or
// Sample is called.
func New(source StatsSource, opts Options) (*Monitor, error) {
	if source == nil {
		return nil, fmt.Errorf("monitor: stats source is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("monitor: threshold must be within (0, 1], got %v", opts.Threshold)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	m := &Monitor{
		source:    source,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		onChange:  opts.OnChange,
		logger:    loggingpkg.OrNop(opts.Logger),
		clock:     opts.Clock,
	}
	if opts.Previous != nil && !opts.Previous.SampledAt.IsZero() {
		m.last = *opts.Previous
		m.sampled = true
	}
	if opts.EnableMetrics {
		g, err := newGauges(opts.Registerer)
		if err != nil {
			return nil, err
		}
		m.gauges = g
	}
	return m, nil
}

// Threshold returns the configured fill fraction.
func (m *Monitor) Threshold() float64 { return m.threshold }

// Run samples immediately and then on every interval until ctx is done. It
// always returns nil so a supervisor treats cancellation as a clean stop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// Sample takes one sample outside the ticker and returns it.
func (m *Monitor) Sample() Snapshot {
	return m.sample(context.Background())
}

func (m *Monitor) sample(ctx context.Context) Snapshot {
	stats := m.source.Stats()

	snap := Snapshot{
		Name:      stats.Name,
		Depth:     stats.Depth,
		Capacity:  stats.Capacity,
		Rejected:  stats.Rejected,
		SampledAt: m.clock(),
	}
	if stats.Capacity > 0 {
		ratio := float64(stats.Depth) / float64(stats.Capacity)
		snap.PercentFull = ratio * 100
		snap.OverThreshold = ratio >= m.threshold
	}

	m.mu.Lock()
	changed := (m.sampled && m.last.OverThreshold != snap.OverThreshold) ||
		(!m.sampled && snap.OverThreshold)
	m.last = snap
	m.sampled = true
	m.mu.Unlock()

	m.gauges.observe(snap)

	if changed {
		fields := loggingpkg.LogFields{
			"queue":        snap.Name,
			"depth":        snap.Depth,
			"capacity":     snap.Capacity,
			"percent_full": snap.PercentFull,
		}
		if snap.OverThreshold {
			m.logger.Info("Queue over backpressure threshold", fields)
		} else {
			m.logger.Info("Queue back under backpressure threshold", fields)
		}
		if m.onChange != nil {
			m.onChange(ctx, snap)
		}
	}
	return snap
}

// Snapshot returns the latest sample, the zero value before the first one.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// HealthCheck reports an error while the last sample is over threshold. It
// matches the healthcheck.Check signature.
func (m *Monitor) HealthCheck() error {
	snap := m.Snapshot()
	if snap.OverThreshold {
		return fmt.Errorf("queue %s is %.1f%% full (%d/%d)", snap.Name, snap.PercentFull, snap.Depth, snap.Capacity)
	}
	return nil
}

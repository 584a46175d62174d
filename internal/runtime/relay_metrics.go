package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/drblury/eventrelay/internal/runtime/metrics"
)

// RelayMetrics tracks what RelayTo did with each published event.
type RelayMetrics struct {
	mu     sync.RWMutex
	events map[string]*RelayEventMetrics

	relayedTotal *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
	failedTotal  *prometheus.CounterVec
}

// RelayEventMetrics holds the counters of one event.
type RelayEventMetrics struct {
	Relayed       uint64    `json:"relayed"`
	Dropped       uint64    `json:"dropped"`
	Failed        uint64    `json:"failed"`
	LastDroppedAt time.Time `json:"last_dropped_at,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// RelayMetricsSnapshot is a point-in-time copy of every event.
type RelayMetricsSnapshot struct {
	TotalRelayed uint64                        `json:"total_relayed"`
	TotalDropped uint64                        `json:"total_dropped"`
	TotalFailed  uint64                        `json:"total_failed"`
	Events       map[string]*RelayEventMetrics `json:"events"`
	CollectedAt  time.Time                     `json:"collected_at"`
}

// NewRelayMetrics keeps in-memory counters and, when export is set, mirrors
// them to Prometheus on registerer (the default registerer when nil).
// Registering twice on the same registerer reuses the collectors.
func NewRelayMetrics(registerer prometheus.Registerer, export bool) (*RelayMetrics, error) {
	m := &RelayMetrics{events: make(map[string]*RelayEventMetrics)}
	if !export {
		return m, nil
	}

	labels := []string{"event"}
	var err error
	if m.relayedTotal, err = metricspkg.Register(registerer, metricspkg.NewCounterVec("relay", "relayed_total", "Hub events enqueued on the durable queue", labels)); err != nil {
		return nil, err
	}
	if m.droppedTotal, err = metricspkg.Register(registerer, metricspkg.NewCounterVec("relay", "dropped_total", "Hub events dropped because the queue was full", labels)); err != nil {
		return nil, err
	}
	if m.failedTotal, err = metricspkg.Register(registerer, metricspkg.NewCounterVec("relay", "failed_total", "Hub events that could not be encoded or stored", labels)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RelayMetrics) relayed(event string) {
	m.record(event, m.relayedTotal, func(em *RelayEventMetrics) { em.Relayed++ })
}

func (m *RelayMetrics) dropped(event string) {
	m.record(event, m.droppedTotal, func(em *RelayEventMetrics) {
		em.Dropped++
		em.LastDroppedAt = em.LastUpdatedAt
	})
}

func (m *RelayMetrics) failed(event string) {
	m.record(event, m.failedTotal, func(em *RelayEventMetrics) { em.Failed++ })
}

func (m *RelayMetrics) record(event string, counter *prometheus.CounterVec, update func(*RelayEventMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	em, ok := m.events[event]
	if !ok {
		em = &RelayEventMetrics{}
		m.events[event] = em
	}
	em.LastUpdatedAt = time.Now()
	update(em)

	if counter != nil {
		counter.WithLabelValues(event).Inc()
	}
}

// Snapshot copies the current counters.
func (m *RelayMetrics) Snapshot() RelayMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := RelayMetricsSnapshot{
		Events:      make(map[string]*RelayEventMetrics, len(m.events)),
		CollectedAt: time.Now(),
	}
	for event, em := range m.events {
		c := *em
		snap.Events[event] = &c
		snap.TotalRelayed += em.Relayed
		snap.TotalDropped += em.Dropped
		snap.TotalFailed += em.Failed
	}
	return snap
}

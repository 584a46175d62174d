package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/drblury/eventrelay/internal/runtime/metrics"
)

type counters struct {
	restarts prometheus.Counter
}

func newCounters(reg prometheus.Registerer, worker string) (*counters, error) {
	restarts, err := metricspkg.Register(reg, metricspkg.NewCounterVec("supervisor", "restarts_total", "Worker failures followed by a restart or give-up", []string{"worker"}))
	if err != nil {
		return nil, err
	}
	return &counters{restarts: restarts.WithLabelValues(worker)}, nil
}

func (c *counters) restart() {
	if c == nil {
		return
	}
	c.restarts.Inc()
}

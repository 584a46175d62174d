package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/drblury/eventrelay/internal/runtime/metrics"
)

type gauges struct {
	depth    *prometheus.GaugeVec
	fill     *prometheus.GaugeVec
	over     *prometheus.GaugeVec
	rejected *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer) (*gauges, error) {
	labels := []string{"queue"}
	depth, err := metricspkg.Register(reg, metricspkg.NewGaugeVec("queue", "depth", "Envelopes accepted but not yet committed", labels))
	if err != nil {
		return nil, err
	}
	fill, err := metricspkg.Register(reg, metricspkg.NewGaugeVec("queue", "fill_ratio", "Queue depth divided by capacity", labels))
	if err != nil {
		return nil, err
	}
	over, err := metricspkg.Register(reg, metricspkg.NewGaugeVec("queue", "over_threshold", "1 while the queue is over its backpressure threshold", labels))
	if err != nil {
		return nil, err
	}
	rejected, err := metricspkg.Register(reg, metricspkg.NewGaugeVec("queue", "rejected", "Enqueue attempts refused because the queue was full, since start", labels))
	if err != nil {
		return nil, err
	}
	return &gauges{depth: depth, fill: fill, over: over, rejected: rejected}, nil
}

func (g *gauges) observe(snap Snapshot) {
	if g == nil {
		return
	}
	g.depth.WithLabelValues(snap.Name).Set(float64(snap.Depth))
	g.fill.WithLabelValues(snap.Name).Set(snap.PercentFull / 100)
	over := 0.0
	if snap.OverThreshold {
		over = 1
	}
	g.over.WithLabelValues(snap.Name).Set(over)
	g.rejected.WithLabelValues(snap.Name).Set(float64(snap.Rejected))
}

package forwarder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/drblury/eventrelay/internal/runtime/metrics"
)

type counters struct {
	records      prometheus.Counter
	batches      prometheus.Counter
	failures     prometheus.Counter
	deadLettered prometheus.Counter
	duration     prometheus.Observer
}

func newCounters(reg prometheus.Registerer, queueName string) (*counters, error) {
	labels := []string{"queue"}
	records, err := metricspkg.Register(reg, metricspkg.NewCounterVec("forwarder", "records_total", "Records stored in the repository", labels))
	if err != nil {
		return nil, err
	}
	batches, err := metricspkg.Register(reg, metricspkg.NewCounterVec("forwarder", "batches_total", "Batches committed on the queue", labels))
	if err != nil {
		return nil, err
	}
	failures, err := metricspkg.Register(reg, metricspkg.NewCounterVec("forwarder", "add_failures_total", "Failed repository Add calls", labels))
	if err != nil {
		return nil, err
	}
	dead, err := metricspkg.Register(reg, metricspkg.NewCounterVec("forwarder", "dead_lettered_total", "Envelopes dead-lettered because they could not be decoded", labels))
	if err != nil {
		return nil, err
	}
	duration, err := metricspkg.Register(reg, metricspkg.NewHistogramVec("forwarder", "batch_duration_seconds", "Time to store and commit one batch", prometheus.DefBuckets, labels))
	if err != nil {
		return nil, err
	}
	return &counters{
		records:      records.WithLabelValues(queueName),
		batches:      batches.WithLabelValues(queueName),
		failures:     failures.WithLabelValues(queueName),
		deadLettered: dead.WithLabelValues(queueName),
		duration:     duration.WithLabelValues(queueName),
	}, nil
}

func (c *counters) batch(records int, took time.Duration) {
	if c == nil {
		return
	}
	c.records.Add(float64(records))
	c.batches.Inc()
	c.duration.Observe(took.Seconds())
}

func (c *counters) failure() {
	if c == nil {
		return
	}
	c.failures.Inc()
}

func (c *counters) deadLetter() {
	if c == nil {
		return
	}
	c.deadLettered.Inc()
}

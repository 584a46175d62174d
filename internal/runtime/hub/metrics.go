package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/drblury/eventrelay/internal/runtime/metrics"
)

// MetricsCollector receives one observation per publish. Implementations must
// be safe for concurrent use.
type MetricsCollector interface {
	ObservePublish(event string, handlers int, elapsed time.Duration)
	ObserveHandlerFailure(event string)
}

type nopMetrics struct{}

func (nopMetrics) ObservePublish(string, int, time.Duration) {}
func (nopMetrics) ObserveHandlerFailure(string)              {}

// PrometheusMetrics exports hub activity as
// eventrelay_hub_publish_total, eventrelay_hub_publish_duration_seconds and
// eventrelay_hub_handler_failures_total, labelled by hub and event.
type PrometheusMetrics struct {
	name      string
	published *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	failures  *prometheus.CounterVec
}

// NewPrometheusMetrics registers the hub collectors on reg (the default
// registerer when nil). Hubs sharing a registerer share the collectors and
// are told apart by name.
func NewPrometheusMetrics(reg prometheus.Registerer, name string) (*PrometheusMetrics, error) {
	if name == "" {
		name = metricspkg.Namespace
	}
	labels := []string{"hub", "event"}

	published, err := metricspkg.Register(reg, metricspkg.NewCounterVec("hub", "publish_total", "Total number of hub publishes", labels))
	if err != nil {
		return nil, err
	}
	duration, err := metricspkg.Register(reg, metricspkg.NewHistogramVec("hub", "publish_duration_seconds", "Time spent running the handlers of one publish", prometheus.DefBuckets, labels))
	if err != nil {
		return nil, err
	}
	failures, err := metricspkg.Register(reg, metricspkg.NewCounterVec("hub", "handler_failures_total", "Total number of handlers that returned an error or panicked", labels))
	if err != nil {
		return nil, err
	}

	return &PrometheusMetrics{
		name:      name,
		published: published,
		duration:  duration,
		failures:  failures,
	}, nil
}

func (m *PrometheusMetrics) ObservePublish(event string, _ int, elapsed time.Duration) {
	m.published.WithLabelValues(m.name, event).Inc()
	m.duration.WithLabelValues(m.name, event).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) ObserveHandlerFailure(event string) {
	m.failures.WithLabelValues(m.name, event).Inc()
}

// Package prometheus provides a Prometheus implementation of store.Metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/getpup/messtore/es/store"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

// Metrics implements store.Metrics.
type Metrics struct {
	appendDuration *prometheus.HistogramVec
	appends        *prometheus.CounterVec
	readDuration   *prometheus.HistogramVec
	messagesRead   *prometheus.CounterVec
}

var _ store.Metrics = (*Metrics)(nil)

// NewMetrics creates the store metrics and registers them with reg.
// Metric names start with namespace, which defaults to "messtore".
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "messtore"
	}

	m := &Metrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Append latency in seconds by outcome",
			Buckets:   defaultBuckets,
		}, []string{"outcome"}),

		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appends_total",
			Help:      "Total number of appends by outcome",
		}, []string{"outcome"}),

		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Backend read latency in seconds by kind",
			Buckets:   defaultBuckets,
		}, []string{"kind"}),

		messagesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Total number of messages returned by reads by kind",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.appends,
		m.readDuration,
		m.messagesRead,
	)

	return m
}

// ObserveAppend implements store.Metrics.
func (m *Metrics) ObserveAppend(outcome string, duration time.Duration) {
	m.appendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.appends.WithLabelValues(outcome).Inc()
}

// ObserveRead implements store.Metrics.
func (m *Metrics) ObserveRead(kind string, messages int, duration time.Duration) {
	m.readDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.messagesRead.WithLabelValues(kind).Add(float64(messages))
}

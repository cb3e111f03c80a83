// Package telemetry exports bridge and mounting metrics through
// Prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
)

// Collector records per-call and per-transaction telemetry.
// It implements bridge.CallRecorder and mounting.TransactionRecorder.
type Collector struct {
	registry *prometheus.Registry
	ns       string

	callsTotal   *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	transactions *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	commitTime   prometheus.Histogram
	diffTime     prometheus.Histogram
	mountTime    prometheus.Histogram
}

var (
	_ bridge.CallRecorder          = (*Collector)(nil)
	_ mounting.TransactionRecorder = (*Collector)(nil)
)

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tether"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		ns:       namespace,
	}

	c.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Native module calls by final state",
		},
		[]string{"module", "method", "convention", "result"},
	)

	c.callLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Time from call receipt to completion or settlement",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"module", "method"},
	)

	c.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mounting",
			Name:      "transactions_total",
			Help:      "Mounted transactions by result",
		},
		[]string{"result"},
	)

	c.mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mounting",
			Name:      "mutations_total",
			Help:      "Mutations handed to the mounting manager by kind",
		},
		[]string{"kind"},
	)

	c.commitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mounting",
		Name:      "commit_duration_seconds",
		Help:      "Shadow tree commit time including diff",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
	})
	c.diffTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mounting",
		Name:      "diff_duration_seconds",
		Help:      "Shadow tree diff time",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
	})
	c.mountTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mounting",
		Name:      "mount_duration_seconds",
		Help:      "Time spent applying mutations on the main loop",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	c.registry.MustRegister(
		c.callsTotal,
		c.callLatency,
		c.transactions,
		c.mutations,
		c.commitTime,
		c.diffTime,
		c.mountTime,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCall implements bridge.CallRecorder.
func (c *Collector) RecordCall(rec bridge.CallRecord) {
	result := rec.State.String()
	if rec.Code != "" {
		result = rec.Code
	}
	c.callsTotal.WithLabelValues(rec.Module, rec.Method, rec.Convention.String(), result).Inc()
	c.callLatency.WithLabelValues(rec.Module, rec.Method).Observe(rec.Duration.Seconds())
}

// RecordTransaction implements mounting.TransactionRecorder.
func (c *Collector) RecordTransaction(tx *shadow.Transaction, failure *mounting.Failure) {
	result := "success"
	if failure != nil {
		result = "failure"
	}
	c.transactions.WithLabelValues(result).Inc()

	for _, m := range tx.Mutations {
		c.mutations.WithLabelValues(m.Kind.String()).Inc()
	}
	tel := tx.Telemetry
	c.commitTime.Observe(tel.CommitDuration().Seconds())
	c.diffTime.Observe(tel.DiffDuration().Seconds())
	if !tel.MountStart.IsZero() && !tel.MountEnd.IsZero() {
		c.mountTime.Observe(tel.MountDuration().Seconds())
	}
}

// CounterFunc registers a counter read from fn on every scrape. Counters
// sharing a name must use the same label keys.
func (c *Collector) CounterFunc(subsystem, name, help string, labels map[string]string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   c.ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		},
		fn,
	))
}

// Gauge registers a gauge sampled from fn on every scrape, e.g. loop
// queue depth or pending promises.
func (c *Collector) Gauge(subsystem, name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

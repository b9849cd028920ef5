// Package metrics holds the booking-service Prometheus collectors. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transitions    *prometheus.CounterVec
	holdRejections *prometheus.CounterVec
	expiredHolds   prometheus.Counter
	sweepDuration  prometheus.Histogram
	slotsGenerated *prometheus.CounterVec
	exposureCache  *prometheus.CounterVec
	outboxEvents   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking state transitions",
		}, []string{"transition"}),
		holdRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "rejections_total",
			Help:      "Rejected booking operations by reason",
		}, []string{"op", "reason"}),
		expiredHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "holds_expired_total",
			Help:      "Holds released by the expiry sweep",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "expiry_sweep_seconds",
			Help:      "Duration of one hold-expiry sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "slots_generated_total",
			Help:      "Slot generation outcomes (created or skipped)",
		}, []string{"result", "dry_run"}),
		exposureCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "exposure",
			Name:      "cache_total",
			Help:      "Exposure cache lookups by result",
		}, []string{"result"}),
		outboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events delivered to Kafka",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.holdRejections, m.expiredHolds, m.sweepDuration,
		m.slotsGenerated, m.exposureCache, m.outboxEvents)
	return m
}

func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) Rejected(op, reason string) {
	if m == nil {
		return
	}
	m.holdRejections.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) Sweep(expired int, took time.Duration) {
	if m == nil {
		return
	}
	m.expiredHolds.Add(float64(expired))
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) Generated(created, skipped int, dryRun bool) {
	if m == nil {
		return
	}
	label := "false"
	if dryRun {
		label = "true"
	}
	m.slotsGenerated.WithLabelValues("created", label).Add(float64(created))
	m.slotsGenerated.WithLabelValues("skipped", label).Add(float64(skipped))
}

func (m *Metrics) ExposureCache(result string) {
	if m == nil {
		return
	}
	m.exposureCache.WithLabelValues(result).Inc()
}

func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues(eventType).Inc()
}

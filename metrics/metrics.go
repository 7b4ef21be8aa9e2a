package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the reconciliation engine
type Metrics struct {
	webhookEvents    *prometheus.CounterVec
	webhookDuration  *prometheus.HistogramVec
	remindersSent    prometheus.Counter
	reminderOutcomes *prometheus.CounterVec
	upserts          *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics, registering them on first use
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "premium",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Total provider events processed by family and outcome",
			},
			[]string{"family", "outcome"},
		),
		webhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "premium",
				Subsystem: "webhook",
				Name:      "processing_seconds",
				Help:      "Time spent reconciling one provider event",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"family"},
		),
		remindersSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "premium",
				Subsystem: "reminder",
				Name:      "sent_total",
				Help:      "Total payment reminders delivered",
			},
		),
		reminderOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "premium",
				Subsystem: "reminder",
				Name:      "candidates_total",
				Help:      "Reminder candidates by outcome",
			},
			[]string{"outcome"},
		),
		upserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "premium",
				Subsystem: "admin",
				Name:      "upserts_total",
				Help:      "Administrative subscription upserts by resulting status",
			},
			[]string{"status"},
		),
	}

	prometheus.MustRegister(
		m.webhookEvents,
		m.webhookDuration,
		m.remindersSent,
		m.reminderOutcomes,
		m.upserts,
	)

	return m
}

// RecordWebhookEvent counts one processed event and its latency
func (m *Metrics) RecordWebhookEvent(family, outcome string, elapsed time.Duration) {
	if family == "" {
		family = "unknown"
	}
	m.webhookEvents.WithLabelValues(family, outcome).Inc()
	m.webhookDuration.WithLabelValues(family).Observe(elapsed.Seconds())
}

// RecordReminderSent counts a delivered reminder
func (m *Metrics) RecordReminderSent() {
	m.remindersSent.Inc()
	m.reminderOutcomes.WithLabelValues("sent").Inc()
}

// RecordReminderOutcome counts a candidate that was skipped or failed
func (m *Metrics) RecordReminderOutcome(outcome string) {
	m.reminderOutcomes.WithLabelValues(outcome).Inc()
}

// RecordUpsert counts an administrative upsert
func (m *Metrics) RecordUpsert(status string) {
	m.upserts.WithLabelValues(status).Inc()
}

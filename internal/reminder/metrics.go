package reminder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "remindd"

// Metrics holds the scheduler's Prometheus series. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Scheduled       prometheus.Counter
	Rejected        prometheus.Counter
	Dispatches      *prometheus.CounterVec
	DispatchSeconds prometheus.Histogram
	Pruned          prometheus.Counter
	Ticks           prometheus.Counter
	TicksSkipped    prometheus.Counter
	Pending         prometheus.Gauge
}

// NewMetrics registers the scheduler series on reg. A nil reg builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "scheduled_total",
			Help: "Reminders accepted by Schedule.",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "rejected_total",
			Help: "Schedule calls refused because the reminder time was not in the future or invalid.",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "dispatches_total",
			Help: "Notification attempts by result.",
		}, []string{"result"}),
		DispatchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "dispatch_seconds",
			Help:    "Notifier call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		Pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "pruned_total",
			Help: "Reminders dropped by the retention sweep.",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Completed scheduler ticks.",
		}),
		TicksSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "scheduler", Name: "ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "reminders", Name: "pending",
			Help: "Unsent reminders in the working set.",
		}),
	}
}

func (m *Metrics) scheduled(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Scheduled.Inc()
	} else {
		m.Rejected.Inc()
	}
}

func (m *Metrics) dispatched(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Dispatches.WithLabelValues(result).Inc()
	m.DispatchSeconds.Observe(took.Seconds())
}

func (m *Metrics) tick(skipped bool, pruned, pending int) {
	if m == nil {
		return
	}
	if skipped {
		m.TicksSkipped.Inc()
		return
	}
	m.Ticks.Inc()
	m.Pruned.Add(float64(pruned))
	m.Pending.Set(float64(pending))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

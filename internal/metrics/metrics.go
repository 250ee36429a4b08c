// Package metrics exports reminder engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reminderd/internal/reminder"
)

const namespace = "reminderd"

// Metrics implements reminder.Observer on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	ticks            prometheus.Counter
	tickPanics       prometheus.Counter
	tickDuration     prometheus.Histogram
	lastTick         prometheus.Gauge
	tickSessions     prometheus.Gauge
	upstreamCalls    *prometheus.CounterVec
	swept            prometheus.Counter
	manualTriggers   *prometheus.CounterVec
}

var _ reminder.Observer = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery decisions by notification type, role and outcome.",
		}, []string{"type", "role", "outcome"}),
		deliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of delivery attempts.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type", "outcome"}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed scheduler ticks.",
		}),
		tickPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_panics_total",
			Help:      "Ticks aborted by a recovered panic.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Start time of the most recent tick.",
		}),
		tickSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_sessions",
			Help:      "Due sessions handled by the most recent tick.",
		}),
		upstreamCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Directory calls by call name and result.",
		}, []string{"call", "result"}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_swept_total",
			Help:      "Sent records evicted by the retention sweep.",
		}),
		manualTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_triggers_total",
			Help:      "Operator triggers by action and result.",
		}, []string{"action", "result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Delivery(typ reminder.NotificationType, role reminder.Role, outcome reminder.Outcome, took time.Duration) {
	m.deliveries.WithLabelValues(typ.String(), string(role), string(outcome)).Inc()
	if outcome == reminder.OutcomeSent || outcome == reminder.OutcomeFailed {
		m.deliveryDuration.WithLabelValues(typ.String(), string(outcome)).Observe(took.Seconds())
	}
}

func (m *Metrics) Tick(r reminder.TickReport) {
	m.ticks.Inc()
	if r.Panicked {
		m.tickPanics.Inc()
	}
	m.tickDuration.Observe(r.Duration.Seconds())
	m.lastTick.Set(float64(r.Started.Unix()))
	m.tickSessions.Set(float64(len(r.Sessions)))
}

func (m *Metrics) Upstream(call string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstreamCalls.WithLabelValues(call, result).Inc()
}

func (m *Metrics) Swept(n int) { m.swept.Add(float64(n)) }

// Manual counts admin actions such as trigger or check-now.
func (m *Metrics) Manual(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.manualTriggers.WithLabelValues(action, result).Inc()
}

// Package metrics exposes engine measurements as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
)

const namespace = "progression"

// ═══════════════════════════════════════════════════════════════════════════
// Engine Metrics
// ═══════════════════════════════════════════════════════════════════════════

// Metrics implements engine.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	transactions  *prometheus.CounterVec
	bitsPosted    *prometheus.CounterVec
	xpAwarded     prometheus.Counter
	badgesEarned  prometheus.Counter
	levelsGained  prometheus.Counter
	levelUps      prometheus.Counter
	notifications *prometheus.CounterVec
	operations    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry. Process and Go
// runtime collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions posted, by type.",
		}, []string{"type"}),
		bitsPosted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_bits_total",
			Help:      "Absolute bits moved by posted transactions, by direction.",
		}, []string{"direction"}),
		xpAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "XP added to student records.",
		}),
		badgesEarned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_earned_total",
			Help:      "Badges granted.",
		}),
		levelsGained: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "levels_gained_total",
			Help:      "Levels climbed across all level-ups.",
		}),
		levelUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Level-up events.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Notification deliveries, by type and outcome.",
		}, []string{"type", "success"}),
		operations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Command latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "success"}),
	}
}

func (m *Metrics) TransactionPosted(t ledger.Type, amount int64) {
	m.transactions.WithLabelValues(string(t)).Inc()
	direction := "credit"
	if amount < 0 {
		direction = "debit"
		amount = -amount
	}
	m.bitsPosted.WithLabelValues(direction).Add(float64(amount))
}

func (m *Metrics) XPAwarded(amount int64) {
	if amount > 0 {
		m.xpAwarded.Add(float64(amount))
	}
}

func (m *Metrics) BadgeEarned() { m.badgesEarned.Inc() }

func (m *Metrics) LevelUp(levels int) {
	if levels <= 0 {
		return
	}
	m.levelUps.Inc()
	m.levelsGained.Add(float64(levels))
}

func (m *Metrics) NotificationDelivered(t notification.Type, err error) {
	m.notifications.WithLabelValues(string(t), strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) OperationFinished(op string, d time.Duration, err error) {
	m.operations.WithLabelValues(op, strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics — счётчики движка. Все методы безопасны для nil.
type Metrics struct {
	Registry *prometheus.Registry

	evaluations     *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	casRetries      prometheus.Counter
	casExhausted    prometheus.Counter
	lockContention  *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	entryFailures   prometheus.Counter
	haltEvents      prometheus.Counter
	watchdogCleared prometheus.Counter
	brokerErrors    *prometheus.CounterVec
	notifyDropped   prometheus.Counter
	candlesStored   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dca_evaluations_total",
			Help: "Evaluation ticks by resulting action.",
		}, []string{"action"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dca_tick_duration_seconds",
			Help:    "Wall-clock duration of an evaluation tick.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_store_cas_retries_total",
			Help: "Optimistic commit conflicts that were retried.",
		}),
		casExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_store_cas_exhausted_total",
			Help: "Updates that gave up with a concurrent modification error.",
		}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dca_lock_contention_total",
			Help: "Failed lock acquisitions by lock kind.",
		}, []string{"kind"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dca_reconcile_total",
			Help: "Reconciliation outcomes.",
		}, []string{"outcome"}),
		entryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_entry_failures_total",
			Help: "Failed entry attempts.",
		}),
		haltEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_symbol_halts_total",
			Help: "Symbols halted by the entry failure breaker.",
		}),
		watchdogCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_watchdog_cleared_total",
			Help: "Stale markers and locks removed by the watchdog.",
		}),
		brokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dca_broker_errors_total",
			Help: "Broker call errors by error kind.",
		}, []string{"kind"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full.",
		}),
		candlesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dca_candles_stored_total",
			Help: "Closed candles appended to the candle store.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations, m.tickDuration, m.casRetries, m.casExhausted,
		m.lockContention, m.reconciles, m.entryFailures, m.haltEvents,
		m.watchdogCleared, m.brokerErrors, m.notifyDropped, m.candlesStored,
	)
	return m
}

func (m *Metrics) Evaluation(action string, took time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(action).Inc()
	m.tickDuration.Observe(took.Seconds())
}

func (m *Metrics) CASRetry() {
	if m != nil {
		m.casRetries.Inc()
	}
}

func (m *Metrics) CASExhausted() {
	if m != nil {
		m.casExhausted.Inc()
	}
}

func (m *Metrics) LockContended(kind string) {
	if m != nil {
		m.lockContention.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Reconciled(outcome string) {
	if m != nil {
		m.reconciles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) EntryFailed() {
	if m != nil {
		m.entryFailures.Inc()
	}
}

func (m *Metrics) Halted() {
	if m != nil {
		m.haltEvents.Inc()
	}
}

func (m *Metrics) WatchdogCleared(n int) {
	if m != nil && n > 0 {
		m.watchdogCleared.Add(float64(n))
	}
}

func (m *Metrics) BrokerError(kind string) {
	if m != nil {
		m.brokerErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.notifyDropped.Inc()
	}
}

func (m *Metrics) CandleStored() {
	if m != nil {
		m.candlesStored.Inc()
	}
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics содержит метрики checkout и reconciliation.
type SettlementMetrics struct {
	// Счётчики сигналов и результатов применения
	signalsTotal   *prometheus.CounterVec
	appliedTotal   *prometheus.CounterVec
	auditOnlyTotal prometheus.Counter
	conflictsTotal prometheus.Counter

	// Счётчики пограничных случаев
	deadLettersTotal   *prometheus.CounterVec
	unknownStatusTotal prometheus.Counter
	abandonedTotal     prometheus.Counter

	// Счётчик созданных заказов
	ordersCreatedTotal prometheus.Counter

	// Гистограмма перечитывания платежа у процессора
	fetchDuration prometheus.Histogram
}

// NewSettlementMetrics создаёт метрики в глобальном реестре Prometheus.
func NewSettlementMetrics() *SettlementMetrics {
	return newSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SettlementMetrics{
		signalsTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_settlement_signals_total",
			Help: "Total number of settlement signals received",
		}, []string{"source"}),
		appliedTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_settlement_applied_total",
			Help: "Total number of settlements applied to orders",
		}, []string{"status"}),
		auditOnlyTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_settlement_audit_only_total",
			Help: "Total number of settlements recorded as audit only",
		}),
		conflictsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_settlement_conflicts_total",
			Help: "Total number of settlement conflicts detected",
		}),
		deadLettersTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_dead_letters_total",
			Help: "Total number of signals dead-lettered",
		}, []string{"reason"}),
		unknownStatusTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_unknown_processor_status_total",
			Help: "Total number of unknown processor statuses observed",
		}),
		abandonedTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_abandoned_total",
			Help: "Total number of orders marked as abandoned",
		}),
		ordersCreatedTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Total number of orders created",
		}),
		fetchDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_processor_fetch_duration_seconds",
			Help:    "Duration of authoritative payment fetches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSignal увеличивает счётчик входящих сигналов по источнику.
func (m *SettlementMetrics) RecordSignal(source string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(source).Inc()
}

// RecordApplied увеличивает счётчик применённых статусов.
func (m *SettlementMetrics) RecordApplied(status string) {
	if m == nil {
		return
	}
	m.appliedTotal.WithLabelValues(status).Inc()
}

// RecordAuditOnly увеличивает счётчик сигналов, ушедших только в audit trail.
func (m *SettlementMetrics) RecordAuditOnly() {
	if m == nil {
		return
	}
	m.auditOnlyTotal.Inc()
}

// RecordConflict увеличивает счётчик конфликтов привязки платежа.
func (m *SettlementMetrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

// RecordDeadLetter увеличивает счётчик dead letters по причине.
func (m *SettlementMetrics) RecordDeadLetter(reason string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(reason).Inc()
}

// RecordUnknownStatus увеличивает счётчик неизвестных статусов процессора.
func (m *SettlementMetrics) RecordUnknownStatus() {
	if m == nil {
		return
	}
	m.unknownStatusTotal.Inc()
}

// RecordAbandoned увеличивает счётчик заброшенных заказов.
func (m *SettlementMetrics) RecordAbandoned() {
	if m == nil {
		return
	}
	m.abandonedTotal.Inc()
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *SettlementMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreatedTotal.Inc()
}

// RecordFetchDuration записывает время перечитывания платежа у процессора.
func (m *SettlementMetrics) RecordFetchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(duration.Seconds())
}

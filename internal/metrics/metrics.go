package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexconsult_wallet"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ledgerMutations     *prometheus.CounterVec
	ledgerConflicts     *prometheus.CounterVec
	settlements         *prometheus.CounterVec
	withdrawals         *prometheus.CounterVec
	payoutsReconcile    prometheus.Counter
	paymentVerification *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ledgerMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "mutations_total",
				Help:      "Committed balance mutations by transaction kind and direction.",
			},
			[]string{"kind", "direction"},
		),
		ledgerConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "unit_conflicts_total",
				Help:      "Atomic units that lost an optimistic race, by operation and whether retries were exhausted.",
			},
			[]string{"operation", "exhausted"},
		),
		settlements: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "settlements_total",
				Help:      "Call settlements by outcome.",
			},
			[]string{"outcome"},
		),
		withdrawals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "transitions_total",
				Help:      "Withdrawal workflow transitions by outcome.",
			},
			[]string{"outcome"},
		),
		payoutsReconcile: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "payout_reconciliation_required_total",
				Help:      "Approved withdrawals whose payout failed after the debit committed.",
			},
		),
		paymentVerification: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recharge",
				Name:      "verifications_total",
				Help:      "Payment verifications by result.",
			},
			[]string{"result"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) ObserveMutation(kind, direction string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) ObserveConflict(operation string, exhausted bool) {
	if m == nil {
		return
	}
	label := "false"
	if exhausted {
		label = "true"
	}
	m.ledgerConflicts.WithLabelValues(operation, label).Inc()
}

func (m *Metrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconciliationRequired() {
	if m == nil {
		return
	}
	m.payoutsReconcile.Inc()
}

func (m *Metrics) ObservePaymentVerification(result string) {
	if m == nil {
		return
	}
	m.paymentVerification.WithLabelValues(result).Inc()
}

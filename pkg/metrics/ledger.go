package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts ledger writes and gateway-driven outcomes.
type LedgerMetrics struct {
	records   *prometheus.CounterVec
	charges   *prometheus.CounterVec
	payouts   *prometheus.CounterVec
	reversals *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_records_total",
		Help: "Transaction records written, by category and status.",
	}, []string{"category", "status"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_charge_attempts_total",
		Help: "Invoice charge attempts, by outcome.",
	}, []string{"outcome"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payouts_total",
		Help: "Payout transfers, by outcome.",
	}, []string{"outcome"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reversals_total",
		Help: "Reversal requests, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(records, charges, payouts, reversals)
	return &LedgerMetrics{
		records:   records,
		charges:   charges,
		payouts:   payouts,
		reversals: reversals,
	}
}

// IncRecord counts one written transaction record.
func (m *LedgerMetrics) IncRecord(category, status string) {
	if m == nil || m.records == nil {
		return
	}
	m.records.WithLabelValues(jobLabel(category), jobLabel(status)).Inc()
}

// IncCharge counts one charge attempt outcome (succeeded, failed, duplicate, rejected).
func (m *LedgerMetrics) IncCharge(outcome string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(jobLabel(outcome)).Inc()
}

// IncPayout counts one payout outcome (sent, failed, skipped).
func (m *LedgerMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(jobLabel(outcome)).Inc()
}

// IncReversal counts one reversal outcome (created, existing, rejected).
func (m *LedgerMetrics) IncReversal(outcome string) {
	if m == nil || m.reversals == nil {
		return
	}
	m.reversals.WithLabelValues(jobLabel(outcome)).Inc()
}

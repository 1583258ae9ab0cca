package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"

	CompensationSucceeded = "succeeded"
	CompensationFailed    = "failed"
)

// LedgerMetrics counts inventory mutations, replays and compensations.
type LedgerMetrics struct {
	operations    *prometheus.CounterVec
	reconcile     prometheus.Histogram
	compensations *prometheus.CounterVec
	alarms        prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_operations_total",
		Help: "Inventory operations by name and outcome.",
	}, []string{"operation", "outcome"})
	reconcile := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reconciliation_duration_seconds",
		Help:    "Time spent replaying an inventory ledger.",
		Buckets: prometheus.DefBuckets,
	})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_compensations_total",
		Help: "Withdrawal compensations by outcome.",
	}, []string{"outcome"})
	alarms := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_consistency_alarms_total",
		Help: "Compensations that failed and left stock possibly inconsistent.",
	})
	reg.MustRegister(operations, reconcile, compensations, alarms)
	return &LedgerMetrics{
		operations:    operations,
		reconcile:     reconcile,
		compensations: compensations,
		alarms:        alarms,
	}
}

// ObserveOperation counts one finished operation. The outcome label is the
// domain reason of a typed error, so rejected calls can be told apart.
func (m *LedgerMetrics) ObserveOperation(operation string, err error) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), Outcome(err)).Inc()
}

// ObserveReconcile records how long one replay took.
func (m *LedgerMetrics) ObserveReconcile(duration time.Duration) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.Observe(duration.Seconds())
}

func (m *LedgerMetrics) IncCompensation(outcome string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncConsistencyAlarm() {
	if m == nil || m.alarms == nil {
		return
	}
	m.alarms.Inc()
}

// Outcome maps an operation error to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if typed := pkgerrors.As(err); typed != nil {
		if reason := typed.Reason(); reason != "" {
			return string(reason)
		}
		return string(typed.Code())
	}
	return OutcomeError
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

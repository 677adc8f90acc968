package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the provisioning engine. A nil
// *Metrics is valid and records nothing, so callers never guard call sites.
type Metrics struct {
	transactionsStarted   prometheus.Counter
	transactionsCompleted *prometheus.CounterVec

	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec

	rollbacksAttempted prometheus.Counter
	rollbackFailures   prometheus.Counter

	recoveriesRun     prometheus.Counter
	corruptWALs       prometheus.Counter
	recoveredTxsTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dpn"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transactionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_started_total",
			Help:      "Total number of transactions begun",
		}),
		transactionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_completed_total",
			Help:      "Total number of transactions by terminal state",
		}, []string{"state"}),
		operationsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_executed_total",
			Help:      "Total number of operations executed by resource type and status",
		}, []string{"resource_type", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of executor calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource_type"}),
		rollbacksAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_attempted_total",
			Help:      "Total number of per-operation rollback attempts",
		}),
		rollbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_failures_total",
			Help:      "Total number of rollback attempts that themselves failed",
		}),
		recoveriesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_run_total",
			Help:      "Total number of recovery passes",
		}),
		corruptWALs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_wal_files_total",
			Help:      "Total number of WAL files skipped as unreadable",
		}),
		recoveredTxsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_transactions_total",
			Help:      "Total number of transactions rolled back by recovery",
		}),
	}

	registry.MustRegister(
		m.transactionsStarted,
		m.transactionsCompleted,
		m.operationsExecuted,
		m.operationDuration,
		m.rollbacksAttempted,
		m.rollbackFailures,
		m.recoveriesRun,
		m.corruptWALs,
		m.recoveredTxsTotal,
	)
	return m
}

// Handler exposes the metrics registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TransactionStarted records a begun transaction.
func (m *Metrics) TransactionStarted() {
	if m == nil {
		return
	}
	m.transactionsStarted.Inc()
}

// TransactionCompleted records a transaction reaching a terminal state.
func (m *Metrics) TransactionCompleted(state string) {
	if m == nil {
		return
	}
	m.transactionsCompleted.WithLabelValues(state).Inc()
}

// OperationExecuted records one executor call outcome.
func (m *Metrics) OperationExecuted(resourceType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationsExecuted.WithLabelValues(resourceType, status).Inc()
	m.operationDuration.WithLabelValues(resourceType).Observe(d.Seconds())
}

// RollbackAttempted records one undo attempt and whether it failed.
func (m *Metrics) RollbackAttempted(failed bool) {
	if m == nil {
		return
	}
	m.rollbacksAttempted.Inc()
	if failed {
		m.rollbackFailures.Inc()
	}
}

// RecoveryRun records one recovery pass.
func (m *Metrics) RecoveryRun(recovered, corrupt int) {
	if m == nil {
		return
	}
	m.recoveriesRun.Inc()
	m.recoveredTxsTotal.Add(float64(recovered))
	m.corruptWALs.Add(float64(corrupt))
}

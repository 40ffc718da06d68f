// Package observability exposes Prometheus metrics for the ledger.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations counts balance-changing operations by kind and
	// outcome (applied, rejected, lock_timeout, storage_error).
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosco",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by movement kind and outcome.",
	}, []string{"kind", "outcome"})

	// ApplyDuration observes the time spent inside the account lock,
	// from transaction begin to commit.
	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kiosco",
		Subsystem: "ledger",
		Name:      "apply_duration_seconds",
		Help:      "Duration of atomic ledger applies.",
		Buckets:   prometheus.DefBuckets,
	})

	// IdempotencyHits counts requests answered from the replay cache.
	IdempotencyHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosco",
		Subsystem: "http",
		Name:      "idempotency_hits_total",
		Help:      "Requests served from the idempotency replay cache.",
	})
)

const (
	OutcomeApplied      = "applied"
	OutcomeRejected     = "rejected"
	OutcomeLockTimeout  = "lock_timeout"
	OutcomeStorageError = "storage_error"
)

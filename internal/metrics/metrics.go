// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine metrics. Each Database owns one instance with its
// own registry so several engines can coexist in one process; the embedding
// application decides whether and where to serve the registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Buffer pool
	PoolHits      prometheus.Counter
	PoolMisses    prometheus.Counter
	PoolEvictions prometheus.Counter

	// Page file
	PagesAllocated prometheus.Counter

	// Transactions
	TxnBegun      prometheus.Counter
	TxnCommitted  prometheus.Counter
	TxnAborted    prometheus.Counter
	TxnConflicts  prometheus.Counter
}

// New creates and registers all engine metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PoolHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_buffer_pool_hits_total",
			Help: "Pins served from a resident frame",
		}),
		PoolMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_buffer_pool_misses_total",
			Help: "Pins that had to read the page from disk",
		}),
		PoolEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_buffer_pool_evictions_total",
			Help: "Frames recycled for another page",
		}),
		PagesAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_pages_allocated_total",
			Help: "Pages appended to the database file",
		}),
		TxnBegun: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_transactions_begun_total",
			Help: "Transactions started",
		}),
		TxnCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_transactions_committed_total",
			Help: "Transactions committed successfully",
		}),
		TxnAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_transactions_aborted_total",
			Help: "Transactions aborted, explicitly or by validation",
		}),
		TxnConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "waxdb_transaction_conflicts_total",
			Help: "Commit validations that failed",
		}),
	}
}

// Nop returns metrics on a private registry that nothing serves. Handy default for
// components constructed without an explicit Metrics.
func Nop() *Metrics {
	return New()
}

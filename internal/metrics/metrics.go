// Package metrics provides Prometheus metrics for the payvex query core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payvex"

var (
	// QueryConcurrency tracks per-table concurrent query execution on the server.
	QueryConcurrency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "query_concurrency",
			Help:      "Number of concurrent queries per table",
		},
		[]string{"table"},
	)

	// PlansCompiled counts compiled where-plans by outcome.
	PlansCompiled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_compiled_total",
			Help:      "Total where-plans compiled",
		},
		[]string{"collection", "kind"}, // kind: index/full_scan/hint_ignored
	)

	// ResidualRejected counts scanned rows dropped by the residual filter.
	ResidualRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "residual_rejected_rows_total",
			Help:      "Rows fetched by an index scan and rejected by the residual filter",
		},
		[]string{"table"},
	)

	// QueriesTotal tracks total queries executed.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total queries executed",
		},
		[]string{"collection", "mode", "status"},
	)

	// QueryLatency tracks query execution latency.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Query execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "mode"},
	)

	// MutationsTotal tracks mutations by kind.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total mutations executed",
		},
		[]string{"collection", "op", "status"},
	)

	// BulkAffected tracks rows touched by where-scoped bulk mutations.
	BulkAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_affected_rows_total",
			Help:      "Rows matched by bulk update/delete operations",
		},
		[]string{"collection", "op"},
	)

	// RPCRequests tracks remote-mode requests served.
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total RPC requests served",
		},
		[]string{"ref", "status"},
	)

	// RPCLatency tracks remote-mode request latency.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "RPC request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"ref"},
	)

	// ObjectStoreOps tracks object store operations.
	ObjectStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_ops_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"}, // operation: get/put/delete/list, status: success/error
	)

	// ObjectStoreLatency tracks object store operation latency.
	ObjectStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "objectstore_latency_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SnapshotsTotal tracks embedded backend snapshots.
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total backend snapshots written",
		},
		[]string{"status"},
	)

	// SnapshotBytes is the compressed size of the last snapshot.
	SnapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes",
			Help:      "Compressed size of the last snapshot in bytes",
		},
	)
)

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// IncQueryConcurrency increments the query concurrency gauge for a table.
func IncQueryConcurrency(table string) {
	QueryConcurrency.WithLabelValues(table).Inc()
}

// DecQueryConcurrency decrements the query concurrency gauge for a table.
func DecQueryConcurrency(table string) {
	QueryConcurrency.WithLabelValues(table).Dec()
}

// ObservePlan records a compiled where-plan.
func ObservePlan(collection string, indexed, hintIgnored bool) {
	kind := "full_scan"
	if indexed {
		kind = "index"
	}
	PlansCompiled.WithLabelValues(collection, kind).Inc()
	if hintIgnored {
		PlansCompiled.WithLabelValues(collection, "hint_ignored").Inc()
	}
}

// AddResidualRejected records rows dropped by the residual filter.
func AddResidualRejected(table string, n int) {
	if n > 0 {
		ResidualRejected.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveQuery records a query execution.
func ObserveQuery(collection, mode string, latencySeconds float64, err error) {
	QueriesTotal.WithLabelValues(collection, mode, statusOf(err)).Inc()
	QueryLatency.WithLabelValues(collection, mode).Observe(latencySeconds)
}

// ObserveMutation records a mutation.
func ObserveMutation(collection, op string, err error) {
	MutationsTotal.WithLabelValues(collection, op, statusOf(err)).Inc()
}

// AddBulkAffected records the matched set size of a bulk mutation.
func AddBulkAffected(collection, op string, n int) {
	BulkAffected.WithLabelValues(collection, op).Add(float64(n))
}

// ObserveRPC records a served RPC request.
func ObserveRPC(ref string, latencySeconds float64, err error) {
	RPCRequests.WithLabelValues(ref, statusOf(err)).Inc()
	RPCLatency.WithLabelValues(ref).Observe(latencySeconds)
}

// ObserveObjectStoreOp records an object store operation.
func ObserveObjectStoreOp(operation string, latencySeconds float64, err error) {
	ObjectStoreOps.WithLabelValues(operation, statusOf(err)).Inc()
	ObjectStoreLatency.WithLabelValues(operation).Observe(latencySeconds)
}

// ObserveSnapshot records a snapshot attempt.
func ObserveSnapshot(bytes int64, err error) {
	SnapshotsTotal.WithLabelValues(statusOf(err)).Inc()
	if err == nil {
		SnapshotBytes.Set(float64(bytes))
	}
}

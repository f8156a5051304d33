package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics, registered on the default registry through promauto.

var (
	// GraphOperationsTotal counts graph operations by name and outcome.
	// status is "ok" or the error kind (e.g. "not_found", "backend").
	GraphOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagdb_graph_operations_total",
			Help: "Total number of graph operations processed",
		},
		[]string{"op", "status"},
	)

	// GraphOperationDuration measures operation latency, backend I/O included.
	GraphOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagdb_graph_operation_duration_seconds",
			Help:    "Duration of graph operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// VerticesCreatedTotal counts vertex creations by vertex type.
	VerticesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagdb_vertices_created_total",
			Help: "Total number of vertices created",
		},
		[]string{"type"},
	)

	// EdgesCreatedTotal counts edge creations by edge kind.
	EdgesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagdb_edges_created_total",
			Help: "Total number of edges created",
		},
		[]string{"kind"},
	)

	// VerticesDeletedTotal counts deleted vertices.
	VerticesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagdb_vertices_deleted_total",
			Help: "Total number of vertices deleted",
		},
	)

	// AOFRewritesTotal counts append-only log compactions.
	AOFRewritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagdb_aof_rewrites_total",
			Help: "Total number of AOF rewrites",
		},
	)
)

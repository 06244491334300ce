// Package telemetry registers the coordinator's prometheus metrics.
//
// Grounded on manik23-learn_go's learn-grpc server/metrics.go: package-level
// CounterVec/GaugeVec variables registered once via prometheus.MustRegister,
// incremented from call sites with WithLabelValues.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// WorkersTotal is the current count of registered workers, by state.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_workers_total",
			Help: "Current number of registered workers, by liveness state.",
		},
		[]string{"state"},
	)

	// BarrierReleases counts barrier rendezvous completions.
	BarrierReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_barrier_releases_total",
			Help: "Total number of barriers that released all waiters.",
		},
		[]string{"barrier_id"},
	)

	// BarrierTimeouts counts barrier waits that expired before release.
	BarrierTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_barrier_timeouts_total",
			Help: "Total number of barrier waits that timed out.",
		},
		[]string{"barrier_id"},
	)

	// CheckpointWrites counts completed checkpoint writes.
	CheckpointWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_checkpoint_writes_total",
			Help: "Total number of checkpoint writes, by outcome.",
		},
		[]string{"outcome"},
	)

	// CheckpointBytesWritten sums bytes written across all checkpoints.
	CheckpointBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_checkpoint_bytes_written_total",
			Help: "Total bytes written across all completed checkpoints.",
		},
	)

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the per-client rate limiter.",
		},
		[]string{"client_id"},
	)

	// RPCRequests counts handled RPCs by operation and HTTP status class.
	RPCRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_rpc_requests_total",
			Help: "Total number of RPC requests handled, by operation and status.",
		},
		[]string{"operation", "status"},
	)
)

// Register registers all package metrics with the default prometheus
// registry. Call once at startup, before serving /metrics.
func Register() {
	prometheus.MustRegister(
		WorkersTotal,
		BarrierReleases,
		BarrierTimeouts,
		CheckpointWrites,
		CheckpointBytesWritten,
		RateLimitRejections,
		RPCRequests,
	)
}

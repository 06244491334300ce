// Package types holds the coordinator's shared wire/domain structs: workers,
// datasets, shard assignments, and checkpoint metadata. Splitting these out
// from the packages that operate on them (registry, shard, checkpoint)
// avoids import cycles between those packages and the transport layer.
package types

import "time"

// WorkerState is a worker's liveness state, per spec.md §4.4's state
// machine. Transitions are validated by the registry, never by callers.
type WorkerState string

const (
	WorkerInitializing  WorkerState = "initializing"
	WorkerIdle          WorkerState = "idle"
	WorkerLoadingData   WorkerState = "loading_data"
	WorkerTraining      WorkerState = "training"
	WorkerCheckpointing WorkerState = "checkpointing"
	WorkerRecovering    WorkerState = "recovering"
	WorkerError         WorkerState = "error"
	WorkerDisconnecting WorkerState = "disconnecting"
	WorkerDead          WorkerState = "dead"
)

// GpuMetrics reports per-GPU utilization submitted by a worker's heartbeat.
type GpuMetrics struct {
	GPUID             int     `json:"gpu_id"`
	UtilizationPct    float64 `json:"utilization_percent"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
	TemperatureCelsiu float64 `json:"temperature_celsius"`
}

// ResourceMetrics is a worker's self-reported resource snapshot.
type ResourceMetrics struct {
	CPUPercent     float64      `json:"cpu_percent"`
	MemoryBytes    uint64       `json:"memory_bytes"`
	DiskReadBytes  uint64       `json:"disk_read_bytes"`
	DiskWriteBytes uint64       `json:"disk_write_bytes"`
	NetRxBytes     uint64       `json:"network_rx_bytes"`
	NetTxBytes     uint64       `json:"network_tx_bytes"`
	GPUs           []GpuMetrics `json:"gpu_metrics,omitempty"`
}

// Worker is the coordinator's record of a single training process.
//
// Mutable fields (State, LastHeartbeat, Step, Epoch, TaskLabel, Resources)
// are updated under the registry's mutex; Rank is reassigned on
// membership churn per spec.md §4.3's rebalance rule.
type Worker struct {
	ID            string          `json:"id"`
	Rank          int             `json:"rank"`
	Hostname      string          `json:"hostname"`
	Port          int             `json:"port"`
	GPUCount      int             `json:"gpu_count"`
	TotalMemory   uint64          `json:"total_memory"`
	State         WorkerState     `json:"state"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
	Step          uint64          `json:"step"`
	Epoch         uint64          `json:"epoch"`
	TaskLabel     string          `json:"task_label,omitempty"`
	Resources     ResourceMetrics `json:"resources"`
	RegisteredAt  time.Time       `json:"registered_at"`
}

// Dataset is the coordinator's registry entry for a training dataset.
// Immutable after registration; re-registering the same ID overwrites it.
type Dataset struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Format      string `json:"format"`
	TotalCount  uint64 `json:"total_count"`
	ShardSize   uint64 `json:"shard_size"`
	Shuffle     bool   `json:"shuffle"`
	Seed        uint64 `json:"seed"`
	ShardCount  int    `json:"shard_count"`
}

// ShardRange returns the half-open sample range [start, end) covered by
// shard k of d, per spec.md §3: [k*Z, min((k+1)*Z, S)).
func (d Dataset) ShardRange(k int) (start, end uint64) {
	start = uint64(k) * d.ShardSize
	end = start + d.ShardSize
	if end > d.TotalCount {
		end = d.TotalCount
	}
	return start, end
}

// ShardAssignment is a fully-resolved shard handed to a worker for a given
// epoch: pure function of dataset metadata, worker membership, and epoch.
type ShardAssignment struct {
	DatasetID  string   `json:"dataset_id"`
	ShardID    int      `json:"shard_id"`
	Epoch      uint64   `json:"epoch"`
	StartIndex uint64   `json:"start_index"`
	EndIndex   uint64   `json:"end_index"`
	FilePaths  []string `json:"file_paths"`
}

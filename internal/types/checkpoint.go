package types

import "time"

// CheckpointType distinguishes what a checkpoint payload contains.
type CheckpointType string

const (
	CheckpointFull          CheckpointType = "full"
	CheckpointIncremental   CheckpointType = "incremental"
	CheckpointOptimizerOnly CheckpointType = "optimizer_only"
	CheckpointModelOnly     CheckpointType = "model_only"
)

// WriteStatus tracks a checkpoint write's progress through the async pipeline.
type WriteStatus string

const (
	WriteStatusPending    WriteStatus = "pending"
	WriteStatusInProgress WriteStatus = "in_progress"
	WriteStatusCompleted  WriteStatus = "completed"
	WriteStatusFailed     WriteStatus = "failed"
)

// CheckpointMetadata is the durable record of a completed checkpoint,
// indexed by Step in the checkpoint manager.
type CheckpointMetadata struct {
	ID         string            `json:"id"`
	Step       uint64            `json:"step"`
	Epoch      uint64            `json:"epoch"`
	Path       string            `json:"path"`
	SizeBytes  uint64            `json:"size_bytes"`
	CreatedAt  time.Time         `json:"created_at"`
	Type       CheckpointType    `json:"type"`
	ModelHash  string            `json:"model_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	External   bool              `json:"external,omitempty"`
}

// PendingCheckpoint tracks an in-flight or failed checkpoint write so
// clients can poll status without waiting on the write itself.
type PendingCheckpoint struct {
	ID     string      `json:"id"`
	Step   uint64      `json:"step"`
	Epoch  uint64      `json:"epoch"`
	Status WriteStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

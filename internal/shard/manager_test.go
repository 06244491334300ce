package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syrilj/strata/internal/types"
)

func TestRegisterDatasetComputesShardCount(t *testing.T) {
	m := NewManager(1)
	d, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 1000, ShardSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, d.ShardCount)
}

func TestRegisterDatasetRoundsUpPartialShard(t *testing.T) {
	m := NewManager(1)
	d, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 950, ShardSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, d.ShardCount)
}

func TestRegisterDatasetRejectsZeroShardSize(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 0})
	assert.Error(t, err)
}

func TestAssignUnknownDataset(t *testing.T) {
	m := NewManager(1)
	_, err := m.Assign("missing", "worker-1", 0, 1, 0)
	assert.Error(t, err)
}

func TestAssignRingBasedRequiresRingMembership(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 10})
	require.NoError(t, err)

	// worker-1 is not yet in the ring, so it owns nothing — not an error,
	// just an empty assignment (the ring falls back to whatever member is
	// closest, which for an empty ring is no one).
	shards, err := m.Assign("ds-1", "worker-1", 0, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, shards)

	m.AddWorker("worker-1")
	shards, err = m.Assign("ds-1", "worker-1", 0, 1, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, shards)
}

func TestAssignShuffledUsesRankAndWorldSize(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 10, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	shardsA, err := m.Assign("ds-1", "worker-a", 0, 2, 0)
	require.NoError(t, err)
	shardsB, err := m.Assign("ds-1", "worker-b", 1, 2, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, shardsA)
	assert.NotEmpty(t, shardsB)
	assert.Equal(t, 10, len(shardsA)+len(shardsB))
}

func TestAssignShuffledRejectsZeroWorldSize(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 10, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	_, err = m.Assign("ds-1", "worker-a", 0, 0, 0)
	assert.Error(t, err)
}

func TestRebalanceDistributesAcrossWorkers(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 10})
	require.NoError(t, err)

	m.AddWorker("worker-1")
	m.AddWorker("worker-2")

	summary, err := m.Rebalance("ds-1")
	require.NoError(t, err)
	assert.Len(t, summary.Counts, 2)

	total := 0
	for _, c := range summary.Counts {
		total += c
	}
	assert.Equal(t, 10, total)
}

func TestReRegisterDatasetClearsShuffleCache(t *testing.T) {
	m := NewManager(1)
	_, err := m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 100, ShardSize: 10, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	first, err := m.Assign("ds-1", "worker-a", 0, 1, 0)
	require.NoError(t, err)
	assert.Len(t, first, 10)

	// Growing the dataset changes its shard count; a stale cached order
	// would still hold only the original 10 shards.
	_, err = m.RegisterDataset(types.Dataset{ID: "ds-1", TotalCount: 200, ShardSize: 10, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	second, err := m.Assign("ds-1", "worker-a", 0, 1, 0)
	require.NoError(t, err)
	assert.Len(t, second, 20)
}

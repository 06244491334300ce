// Package shard manages dataset registration and shard-to-worker assignment.
//
// Grounded on johnjansen-torua's internal/coordinator/shard_registry.go: a
// registry of assignments guarded by a single RWMutex, with a round-robin
// RebalanceShards swept on membership change. This version replaces the
// flat shardID->node map with a consistent-hash ring (internal/ring) so
// rebalances move a minimal fraction of shards, and adds the epoch-aware
// shuffle (internal/shuffle) the distributed-training domain needs that
// key-value sharding did not.
package shard

import (
	"sort"
	"sync"

	"github.com/syrilj/strata/internal/ring"
	"github.com/syrilj/strata/internal/shuffle"
	"github.com/syrilj/strata/internal/strataerr"
	"github.com/syrilj/strata/internal/types"
)

// Manager owns dataset registration and the consistent-hash ring that
// assigns shards to workers. One Manager per coordinator instance.
type Manager struct {
	mu       sync.RWMutex
	datasets map[string]*types.Dataset
	ring     *ring.Ring
	shuffler *shuffle.Shuffler
}

// NewManager creates a Manager. baseSeed seeds every dataset's epoch
// shuffles; two coordinators started with the same baseSeed produce
// identical shard orders.
func NewManager(baseSeed uint64) *Manager {
	return &Manager{
		datasets: make(map[string]*types.Dataset),
		ring:     ring.New(),
		shuffler: shuffle.New(baseSeed),
	}
}

// RegisterDataset records dataset metadata and derives its shard count as
// ceil(TotalCount / ShardSize), except that a dataset with TotalCount 0 is
// given one (empty) shard rather than zero. Re-registering an existing ID overwrites it
// and clears any cached shuffle order for that dataset.
func (m *Manager) RegisterDataset(d types.Dataset) (types.Dataset, error) {
	if d.ID == "" {
		return types.Dataset{}, strataerr.New(strataerr.InvalidArgument, "RegisterDataset", "dataset ID is required")
	}
	if d.ShardSize == 0 {
		return types.Dataset{}, strataerr.New(strataerr.InvalidArgument, "RegisterDataset", "shard size must be > 0")
	}

	shardCount := int(d.TotalCount / d.ShardSize)
	if d.TotalCount%d.ShardSize != 0 {
		shardCount++
	}
	if shardCount == 0 {
		shardCount = 1
	}
	d.ShardCount = shardCount

	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.ID] = &d
	m.shuffler.ClearCache(d.ID)
	return d, nil
}

// Dataset returns a copy of the registered dataset, or false if unknown.
func (m *Manager) Dataset(id string) (types.Dataset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.datasets[id]
	if !ok {
		return types.Dataset{}, false
	}
	return *d, true
}

// AddWorker inserts worker into the assignment ring. Safe to call for an
// already-present worker (idempotent).
func (m *Manager) AddWorker(workerID string) {
	m.ring.Add(workerID)
}

// RemoveWorker evicts worker from the assignment ring. Shards it owned are
// picked up by their ring-adjacent neighbor on the next lookup — no
// explicit rebalance pass is required.
func (m *Manager) RemoveWorker(workerID string) {
	m.ring.Remove(workerID)
}

// Assign implements spec.md §4.3's assign(dataset, worker, epoch): looks up
// dataset metadata D, then branches on D.Shuffle. When shuffling, it takes
// the round-robin cut of the epoch's shuffled order at (rank, worldSize) —
// the caller supplies these from the worker registry, the component that
// owns rank assignment (see SPEC_FULL.md component table; the Manager
// itself does not track ranks, only ring membership). When not shuffling,
// it asks the consistent-hash ring which shards resolve to workerID. Either
// way, each logical shard ID k is mapped to its sample range
// [k*Z, min(S,(k+1)*Z)) and the dataset's path.
func (m *Manager) Assign(datasetID, workerID string, rank, worldSize int, epoch uint64) ([]types.ShardAssignment, error) {
	d, ok := m.Dataset(datasetID)
	if !ok {
		return nil, strataerr.New(strataerr.NotFound, "Assign", "dataset %q not registered", datasetID)
	}

	var shardIDs []int
	if d.Shuffle {
		if worldSize <= 0 {
			return nil, strataerr.New(strataerr.InvalidArgument, "Assign", "worldSize must be > 0")
		}
		shardIDs = m.shuffler.WorkerShards(datasetID, epoch, d.ShardCount, rank, worldSize)
	} else {
		shardIDs = m.ring.ShardsOf(workerID, datasetID, d.ShardCount)
	}

	out := make([]types.ShardAssignment, 0, len(shardIDs))
	for _, k := range shardIDs {
		start, end := d.ShardRange(k)
		out = append(out, types.ShardAssignment{
			DatasetID:  datasetID,
			ShardID:    k,
			Epoch:      epoch,
			StartIndex: start,
			EndIndex:   end,
			FilePaths:  []string{d.Path},
		})
	}
	return out, nil
}

// RebalanceSummary reports, per worker, how many shards of a dataset it
// owns after the ring's current membership — used by the dashboard and by
// tests asserting even distribution.
type RebalanceSummary struct {
	DatasetID string
	Counts    map[string]int
}

// Rebalance computes the current per-worker shard counts for a dataset
// without mutating ring state — membership changes happen via AddWorker /
// RemoveWorker, this just reports the resulting distribution.
func (m *Manager) Rebalance(datasetID string) (RebalanceSummary, error) {
	d, ok := m.Dataset(datasetID)
	if !ok {
		return RebalanceSummary{}, strataerr.New(strataerr.NotFound, "Rebalance", "dataset %q not registered", datasetID)
	}

	workers := m.ring.Nodes()
	counts := make(map[string]int, len(workers))
	for _, w := range workers {
		counts[w] = len(m.ring.ShardsOf(w, datasetID, d.ShardCount))
	}
	return RebalanceSummary{DatasetID: datasetID, Counts: counts}, nil
}

// Workers returns the sorted worker IDs currently present in the ring.
func (m *Manager) Workers() []string {
	return m.ring.Nodes()
}

// Datasets returns the IDs of all registered datasets, sorted.
func (m *Manager) Datasets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.datasets))
	for id := range m.datasets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package shuffle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicAcrossInstances(t *testing.T) {
	s1 := New(42)
	s2 := New(42)

	a := s1.ShuffledOrder("dataset-1", 0, 100)
	b := s2.ShuffledOrder("dataset-1", 0, 100)
	assert.Equal(t, a, b)
}

func TestBijection(t *testing.T) {
	s := New(7)
	order := s.ShuffledOrder("dataset-1", 3, 200)
	seen := make(map[int]bool, 200)
	for _, v := range order {
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, 200)
}

func TestDifferentEpochsDifferentShuffle(t *testing.T) {
	s := New(42)
	e0 := s.ShuffledOrder("dataset-1", 0, 100)
	e1 := s.ShuffledOrder("dataset-1", 1, 100)
	assert.NotEqual(t, e0, e1)
}

func TestDifferentDatasetsDifferentShuffle(t *testing.T) {
	s := New(42)
	d1 := s.ShuffledOrder("dataset-1", 0, 100)
	d2 := s.ShuffledOrder("dataset-2", 0, 100)
	assert.NotEqual(t, d1, d2)
}

func TestWorkerShardsPartitionWithNoOverlap(t *testing.T) {
	s := New(42)
	const total = 100
	const workers = 4

	seen := map[int]int{}
	for rank := 0; rank < workers; rank++ {
		shards := s.WorkerShards("dataset-1", 0, total, rank, workers)
		assert.Len(t, shards, total/workers)
		for _, sh := range shards {
			seen[sh]++
		}
	}
	assert.Len(t, seen, total)
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}

func TestWorkerShardsZeroWorldSize(t *testing.T) {
	s := New(42)
	assert.Nil(t, s.WorkerShards("dataset-1", 0, 100, 0, 0))
}

func TestShuffleCacheReturnsSameSlice(t *testing.T) {
	s := New(42)
	first := s.ShuffledOrder("dataset-1", 0, 100)
	second := s.ShuffledOrder("dataset-1", 0, 100)
	require.Equal(t, first, second)
	assert.Same(t, &first[0], &second[0])
}

func TestClearCache(t *testing.T) {
	s := New(42)
	s.ShuffledOrder("dataset-1", 0, 10)
	s.ShuffledOrder("dataset-2", 0, 10)

	s.ClearCache("dataset-1")

	s.mu.Lock()
	_, stillThere := s.cache[cacheKey{dataset: "dataset-2", epoch: 0}]
	_, gone := s.cache[cacheKey{dataset: "dataset-1", epoch: 0}]
	s.mu.Unlock()

	assert.True(t, stillThere)
	assert.False(t, gone)
}

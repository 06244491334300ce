// Package ring implements a consistent-hash ring used to map dataset shards
// onto workers with minimal reshuffling as cluster membership changes.
//
// See doc.go for the full design writeup. The algorithm follows
// johnjansen-torua's internal/coordinator/shard_registry.go: FNV-1a hashing
// of a composite key, ordered-map lookup of the first entry with hash >=
// key hash, wrapping to the lowest entry otherwise. This version adds
// virtual-node replication per node, which the teacher's single-level
// consistent hash omitted.
package ring

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
)

// DefaultVirtualNodes is the number of ring positions inserted per physical
// node when none is specified.
const DefaultVirtualNodes = 150

// Ring is a consistent-hash ring with virtual-node replication. The zero
// value is not usable; construct with New.
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	hashes       []uint64          // sorted ring positions
	owners       map[uint64]string // position -> node ID
	nodes        map[string]bool   // physical nodes currently present
}

// New creates a ring with the default virtual-node count.
func New() *Ring {
	return NewWithVirtualNodes(DefaultVirtualNodes)
}

// NewWithVirtualNodes creates a ring with a custom virtual-node count.
func NewWithVirtualNodes(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: v,
		owners:       make(map[uint64]string),
		nodes:        make(map[string]bool),
	}
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Add inserts node into the ring. Idempotent: adding an already-present node
// is a no-op.
func (r *Ring) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nodes[node] {
		return
	}
	r.nodes[node] = true

	for i := 0; i < r.virtualNodes; i++ {
		h := fnv1a64(node + ":" + strconv.Itoa(i))
		if _, exists := r.owners[h]; !exists {
			r.hashes = append(r.hashes, h)
		}
		r.owners[h] = node
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
}

// Remove erases all of node's virtual entries from the ring.
func (r *Ring) Remove(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.nodes[node] {
		return
	}
	delete(r.nodes, node)

	for i := 0; i < r.virtualNodes; i++ {
		h := fnv1a64(node + ":" + strconv.Itoa(i))
		if owner, ok := r.owners[h]; ok && owner == node {
			delete(r.owners, h)
		}
	}
	r.rebuildLocked()
}

func (r *Ring) rebuildLocked() {
	hashes := make([]uint64, 0, len(r.owners))
	for h := range r.owners {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	r.hashes = hashes
}

// Get returns the node owning key, and false if the ring is empty.
func (r *Ring) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 {
		return "", false
	}

	h := fnv1a64(key)
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.owners[r.hashes[idx]], true
}

// ShardsOf returns the shard IDs in [0, C) whose ring lookup for
// "<dataset>:<shardID>" resolves to node.
func (r *Ring) ShardsOf(node, dataset string, shardCount int) []int {
	var out []int
	for k := 0; k < shardCount; k++ {
		owner, ok := r.Get(dataset + ":" + strconv.Itoa(k))
		if ok && owner == node {
			out = append(out, k)
		}
	}
	return out
}

// NodeCount returns the number of physical nodes currently in the ring.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Nodes returns a sorted snapshot of the physical nodes in the ring.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether node is currently present in the ring.
func (r *Ring) Contains(node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[node]
}

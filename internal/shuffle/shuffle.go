// Package shuffle computes deterministic per-(dataset, epoch) shard
// permutations for round-robin training-data distribution.
//
// Grounded on original_source/crates/data-shard/src/epoch.rs: a ChaCha8
// stream-cipher PRNG seeded from a mix of (baseSeed, dataset, epoch)
// drives a Fisher-Yates shuffle, memoized per (dataset, epoch) so repeated
// lookups are free.
package shuffle

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
)

// Shuffler produces byte-identical permutations across processes that share
// a base seed.
type Shuffler struct {
	baseSeed uint64

	mu    sync.Mutex
	cache map[cacheKey][]int
}

type cacheKey struct {
	dataset string
	epoch   uint64
}

// New creates a Shuffler with an explicit base seed. Two Shufflers
// constructed with the same seed produce identical orders for the same
// (dataset, epoch, count).
func New(baseSeed uint64) *Shuffler {
	return &Shuffler{
		baseSeed: baseSeed,
		cache:    make(map[cacheKey][]int),
	}
}

// BaseSeed returns the seed this shuffler was constructed with.
func (s *Shuffler) BaseSeed() uint64 { return s.baseSeed }

// epochSeed mixes the base seed with the dataset ID and epoch into a single
// 64-bit seed via FNV-1a, matching the "any stable 64-bit mixing hash"
// requirement in spec.md §4.2.
func (s *Shuffler) epochSeed(dataset string, epoch uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], s.baseSeed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(dataset))
	putUint64(buf[:], epoch)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ShuffledOrder returns a permutation of [0, count), memoized by
// (dataset, epoch). The returned slice must not be mutated by callers —
// it is shared across calls.
func (s *Shuffler) ShuffledOrder(dataset string, epoch uint64, count int) []int {
	key := cacheKey{dataset: dataset, epoch: epoch}

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	order := make([]int, count)
	for i := range order {
		order[i] = i
	}

	seed := s.epochSeed(dataset, epoch)
	// math/rand/v2's ChaCha8 source is the stdlib equivalent of the
	// original implementation's rand_chacha::ChaCha8Rng (see DESIGN.md).
	var seedBytes [32]byte
	mixSeed(&seedBytes, seed)
	src := rand.NewChaCha8(seedBytes)
	rng := rand.New(src)
	rng.Shuffle(count, func(i, j int) { order[i], order[j] = order[j], order[i] })

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		return cached
	}
	s.cache[key] = order
	return order
}

// mixSeed expands a 64-bit seed into the 32-byte key ChaCha8 requires,
// by repeating an FNV-1a-derived stream. This keeps the expansion
// deterministic and collision-resistant for distinct seeds.
func mixSeed(dst *[32]byte, seed uint64) {
	for block := 0; block < 4; block++ {
		h := fnv.New64a()
		var buf [8]byte
		putUint64(buf[:], seed)
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte{byte(block)})
		putUint64(buf[:], h.Sum64())
		copy(dst[block*8:block*8+8], buf[:])
	}
}

// WorkerShards returns the subset of shuffledOrder assigned to rank under a
// round-robin cut over worldSize workers: {shuffledOrder[i] : i mod
// worldSize == rank}.
func (s *Shuffler) WorkerShards(dataset string, epoch uint64, count int, rank, worldSize int) []int {
	if worldSize <= 0 {
		return nil
	}
	order := s.ShuffledOrder(dataset, epoch, count)
	out := make([]int, 0, count/worldSize+1)
	for i, shard := range order {
		if i%worldSize == rank {
			out = append(out, shard)
		}
	}
	return out
}

// ClearCache drops all memoized permutations for dataset.
func (s *Shuffler) ClearCache(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if k.dataset == dataset {
			delete(s.cache, k)
		}
	}
}

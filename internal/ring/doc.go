// Package ring provides the coordinator's consistent-hash mapping from
// shard keys to worker node IDs.
//
// Construction inserts, for each node N and virtual index i in [0, V),
// FNV-1a-64(N + ":" + i) into a sorted ring. Lookup of key K hashes K and
// returns the owner of the first ring position with hash >= hash(K),
// wrapping to the lowest position otherwise. Removing a node erases all V
// of its virtual positions, so only the fraction of keys owned by that
// node moves — the rest of the ring is untouched.
package ring

package sharding

import "hash/fnv"

// Index assigns a key to one of n shards. The same key always maps to
// the same shard so per-shard locks serialize work for that key.
func Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

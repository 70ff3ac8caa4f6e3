package application

import (
	"hash/fnv"
	"sync"
)

// variantIndex is the n-th pick from a pool of size for key. Picks walk the pool from an
// offset derived from key and seed, so consecutive picks never repeat when size > 1.
func variantIndex(key string, seed uint64, n, size int) int {
	if size <= 1 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	offset := (h.Sum64() ^ seed) % uint64(size)
	return int((offset + uint64(n)) % uint64(size))
}

type rotator struct {
	seed uint64

	mu    sync.Mutex
	count map[string]int
}

func newRotator(seed uint64) *rotator {
	return &rotator{seed: seed, count: make(map[string]int)}
}

func (r *rotator) pick(key string, size int) int {
	r.mu.Lock()
	n := r.count[key]
	r.count[key] = n + 1
	r.mu.Unlock()
	return variantIndex(key, r.seed, n, size)
}

package graph

import "sync"

const defaultShards = 32

// shardedMap spreads keys over independently locked maps so that commits on
// unrelated acts never contend on the same mutex.
type shardedMap[K ~string, V any] struct {
	shards []mapShard[K, V]
}

type mapShard[K ~string, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newShardedMap[K ~string, V any](n int) *shardedMap[K, V] {
	if n <= 0 {
		n = defaultShards
	}
	s := &shardedMap[K, V]{shards: make([]mapShard[K, V], n)}
	for i := range s.shards {
		s.shards[i].m = make(map[K]V)
	}
	return s
}

// fnv-1a
func (s *shardedMap[K, V]) shard(k K) *mapShard[K, V] {
	h := uint32(2166136261)
	for i := 0; i < len(k); i++ {
		h ^= uint32(k[i])
		h *= 16777619
	}
	return &s.shards[h%uint32(len(s.shards))]
}

func (s *shardedMap[K, V]) get(k K) (V, bool) {
	sh := s.shard(k)
	sh.mu.RLock()
	v, ok := sh.m[k]
	sh.mu.RUnlock()
	return v, ok
}

func (s *shardedMap[K, V]) set(k K, v V) {
	sh := s.shard(k)
	sh.mu.Lock()
	sh.m[k] = v
	sh.mu.Unlock()
}

func (s *shardedMap[K, V]) delete(k K) {
	sh := s.shard(k)
	sh.mu.Lock()
	delete(sh.m, k)
	sh.mu.Unlock()
}

// update runs fn under the shard write lock. Returning keep=false deletes k.
func (s *shardedMap[K, V]) update(k K, fn func(cur V, ok bool) (V, bool)) {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.m[k]
	next, keep := fn(cur, ok)
	if keep {
		sh.m[k] = next
	} else {
		delete(sh.m, k)
	}
}

func (s *shardedMap[K, V]) each(fn func(K, V)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, v := range sh.m {
			fn(k, v)
		}
		sh.mu.RUnlock()
	}
}

func (s *shardedMap[K, V]) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

func (s *shardedMap[K, V]) clone() *shardedMap[K, V] {
	c := &shardedMap[K, V]{shards: make([]mapShard[K, V], len(s.shards))}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		m := make(map[K]V, len(sh.m))
		for k, v := range sh.m {
			m[k] = v
		}
		sh.mu.RUnlock()
		c.shards[i].m = m
	}
	return c
}

func (s *shardedMap[K, V]) reset() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.m = make(map[K]V)
		sh.mu.Unlock()
	}
}

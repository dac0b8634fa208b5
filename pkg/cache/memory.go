// This module implements the document cache: a key -> (value, storedAt) map with a single global TTL.
//
// Expiration is lazy; an entry older than the TTL is only removed when it is read (or swept by a prefix clear).
// There is no background reaper and no size bound. Working sets are small and entries are short-lived, so the
// map never grows past what a single client process has looked at during one TTL.
//
// Keys are distributed across shards by their xxhash so concurrent goroutines reading different documents don't
// contend on a single mutex. Prefix clears have to visit every shard.

package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"github.com/nobletooth/kindly/pkg/utils"
)

// memoryEntry is a cached value along with the time it was stored.
type memoryEntry[V any] struct {
	value    V
	storedAt time.Time
}

// memoryShard is a single lock domain of Memory.
type memoryShard[V any] struct {
	mux   sync.Mutex // Get may delete, so reads take the write lock too.
	items map[string]memoryEntry[V]
}

// Memory is a thread-safe TTL cache with lazy eviction and prefix invalidation.
type Memory[V any] struct { // Implements Layer.
	shards []*memoryShard[V]
	ttl    time.Duration
	clock  clockwork.Clock
}

var _ Layer[int] = (*Memory[int])(nil)

// NewMemory is the constructor for Memory. Entries older than `ttl` are considered expired.
func NewMemory[V any](clock clockwork.Clock, ttl time.Duration, shardCount int) *Memory[V] {
	if shardCount <= 0 {
		utils.RaiseInvariant("cache", "non_positive_shard_count",
			"Invalid shard count has been given to memory cache.", "shardCount", shardCount)
		shardCount = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	memory := &Memory[V]{shards: make([]*memoryShard[V], shardCount), ttl: ttl, clock: clock}
	for i := range shardCount {
		memory.shards[i] = &memoryShard[V]{items: make(map[string]memoryEntry[V])}
	}
	return memory
}

// getShard picks the shard owning `key`.
func (m *Memory[V]) getShard(key string) *memoryShard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// isExpired is true once strictly more than the TTL has passed since the entry was stored.
func (m *Memory[V]) isExpired(entry memoryEntry[V], now time.Time) bool {
	return now.Sub(entry.storedAt) > m.ttl
}

// Get returns the value stored for `key`. Expired entries are deleted and reported as not found.
func (m *Memory[V]) Get(key string) (V, bool /*found*/) {
	shard := m.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()

	entry, found := shard.items[key]
	if !found {
		cacheLookups.WithLabelValues("miss").Inc()
		return *new(V), false
	}
	if m.isExpired(entry, m.clock.Now()) {
		delete(shard.items, key)
		cacheLookups.WithLabelValues("expired").Inc()
		return *new(V), false
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return entry.value, true
}

// Set overwrites the value of `key` and restarts its TTL.
func (m *Memory[V]) Set(key string, value V) {
	shard := m.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	shard.items[key] = memoryEntry[V]{value: value, storedAt: m.clock.Now()}
}

// Delete removes `key` from the cache.
func (m *Memory[V]) Delete(key string) {
	shard := m.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	delete(shard.items, key)
}

// Clear removes every key that starts with `prefix`. The caller doesn't need to know the exact keys, which is how
// all query results of a collection get invalidated after a write.
func (m *Memory[V]) Clear(prefix string) /*removed*/ int {
	removed := 0
	for _, shard := range m.shards {
		shard.mux.Lock()
		if prefix == "" {
			removed += len(shard.items)
			shard.items = make(map[string]memoryEntry[V])
		} else {
			for key := range shard.items {
				if strings.HasPrefix(key, prefix) {
					delete(shard.items, key)
					removed++
				}
			}
		}
		shard.mux.Unlock()
	}
	return removed
}

// Keys aggregates the live keys of all shards. Expired entries are skipped but not evicted.
func (m *Memory[V]) Keys() []string {
	now := m.clock.Now()
	keys := make([]string, 0)
	for _, shard := range m.shards {
		shard.mux.Lock()
		for key, entry := range shard.items {
			if !m.isExpired(entry, now) {
				keys = append(keys, key)
			}
		}
		shard.mux.Unlock()
	}
	return keys
}

// Len returns the number of stored entries, including expired entries that haven't been read yet.
func (m *Memory[V]) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mux.Lock()
		total += len(shard.items)
		shard.mux.Unlock()
	}
	return total
}

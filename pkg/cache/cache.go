// Kindly caches documents and query results in memory to avoid repeated calls to the document store.
// This module provides an interface on caching so the api client can run with the sharded memory cache
// or with caching disabled.

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "doc_cache_lookups_total",
	Help: "Total number of document cache lookups.",
}, []string{"status" /* hit | miss | expired */})

// Layer defines the interface of a string keyed cache. Keys are namespaced by their prefix
// (e.g. "ngos:") which allows invalidating a whole namespace at once.
type Layer[V any] interface {
	// Get returns value from cache for given key and a boolean indicating whether key was found.
	Get(key string) (V, bool)
	// Set inserts or overwrites the value of the given key.
	Set(key string, value V)
	// Delete removes the given key if present.
	Delete(key string)
	// Clear removes every key starting with `prefix`; an empty prefix removes everything.
	// It returns the number of removed keys.
	Clear(prefix string) int
	Keys() []string // Returns a slice of all keys currently in the cache.
}

// NoOp is a cache layer that doesn't store any items.
// It is used when cache is disabled.
type NoOp[V any] struct { // Implements Layer.
}

var _ Layer[int] = (*NoOp[int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[V any]() *NoOp[V] {
	return &NoOp[V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[V]) Get(string) (V, bool) {
	cacheLookups.WithLabelValues("miss").Inc()
	var zero V
	return zero, false
}

func (n *NoOp[V]) Set(string, V) {}

func (n *NoOp[V]) Delete(string) {}

func (n *NoOp[V]) Clear(string) int { return 0 }

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[V]) Keys() []string { return nil }

// Package query keeps the results of recent reads in a request cache so views can share them. A Query serves data
// younger than its stale time without calling the api client, and a Mutation invalidates the queries it affects.

package query

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var fetchesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "query_fetches_total",
	Help: "Query fetches by outcome: fresh, fetched, error or throttled",
}, []string{"status"})

// Options controls how long a query result is served and kept.
type Options struct {
	StaleTime time.Duration // Results younger than this are served without fetching.
	CacheTime time.Duration // Results unused for longer than this are dropped.
}

// DefaultOptions serves results for 5 minutes and keeps them for 10.
func DefaultOptions() Options {
	return Options{StaleTime: 5 * time.Minute, CacheTime: 10 * time.Minute}
}

type entry struct {
	data      any
	updatedAt time.Time
	lastUsed  time.Time
	cacheTime time.Duration
}

// Client is the request cache shared by every Query and Mutation of a process.
type Client struct {
	clock   clockwork.Clock
	mux     sync.Mutex
	entries map[ /*queryKey*/ string]*entry
	flights singleflight.Group // Concurrent fetches of the same key run once.
}

// NewClient builds an empty request cache; a nil clock means the real one.
func NewClient(clock clockwork.Clock) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{clock: clock, entries: make(map[string]*entry)}
}

// lookup returns the cached data of `key` and when it was fetched. Entries unused for longer than their cache time
// are dropped here.
func (c *Client) lookup(key string) (any, time.Time, bool /*found*/) {
	c.mux.Lock()
	defer c.mux.Unlock()
	cached, found := c.entries[key]
	if !found {
		return nil, time.Time{}, false
	}
	now := c.clock.Now()
	if now.Sub(cached.lastUsed) > cached.cacheTime {
		delete(c.entries, key)
		return nil, time.Time{}, false
	}
	cached.lastUsed = now
	return cached.data, cached.updatedAt, true
}

// put stores freshly fetched data and sweeps the entries nobody used within their cache time.
func (c *Client) put(key string, data any, cacheTime time.Duration) time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	now := c.clock.Now()
	for otherKey, other := range c.entries {
		if now.Sub(other.lastUsed) > other.cacheTime {
			delete(c.entries, otherKey)
		}
	}
	c.entries[key] = &entry{data: data, updatedAt: now, lastUsed: now, cacheTime: cacheTime}
	return now
}

// Invalidate drops every cached result whose key starts with `prefix`, so the next fetch of those queries goes to
// the api client. An empty prefix drops everything.
func (c *Client) Invalidate(prefix string) /*dropped*/ int {
	c.mux.Lock()
	defer c.mux.Unlock()
	dropped := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("Invalidated queries.", "prefix", prefix, "count", dropped)
	}
	return dropped
}

// Keys lists the cached query keys in order.
func (c *Client) Keys() []string {
	c.mux.Lock()
	defer c.mux.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

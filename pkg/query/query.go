package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nobletooth/kindly/pkg/utils"
	"golang.org/x/time/rate"
)

// RefetchWindow is the minimum spacing between two refetches of the same query.
const RefetchWindow = 500 * time.Millisecond

// State is what a view renders for a query or a mutation.
type State[T any] struct {
	Data      T
	IsLoading bool
	IsError   bool
	Err       error
	UpdatedAt time.Time // Zero until the first successful fetch.
}

// FetchMeta tells a fetch function why it runs.
type FetchMeta struct {
	Refetch bool // Set for explicit refetches, which should bypass lower caches.
}

// FetchFn loads the data of a query.
type FetchFn[T any] func(ctx context.Context, meta FetchMeta) (T, error)

// Query is one view's handle on a cached read. Handles built with the same key share results through the Client.
type Query[T any] struct {
	client  *Client
	key     string
	fetch   FetchFn[T]
	opts    Options
	limiter *rate.Limiter // Throttles Refetch.

	mux   sync.Mutex
	state State[T]
}

// New builds a query handle; nothing is fetched until Fetch is called.
func New[T any](client *Client, key string, fetch FetchFn[T], opts Options) *Query[T] {
	return &Query[T]{
		client:  client,
		key:     key,
		fetch:   fetch,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(RefetchWindow), 1),
	}
}

// Key returns the request cache key of the query.
func (q *Query[T]) Key() string {
	return q.key
}

// State returns the last known state without fetching.
func (q *Query[T]) State() State[T] {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.state
}

// Fetch returns the cached result while it is younger than the stale time, and fetches it otherwise.
func (q *Query[T]) Fetch(ctx context.Context) State[T] {
	if cached, updatedAt, found := q.client.lookup(q.key); found &&
		q.client.clock.Since(updatedAt) <= q.opts.StaleTime {
		if data, isT := cached.(T); isT {
			fetchesMetric.WithLabelValues("fresh").Inc()
			return q.settle(data, updatedAt, nil)
		}
		utils.RaiseInvariant("query", "unexpected_cached_type", "Query key holds a value of another type.",
			"key", q.key, "type", fmt.Sprintf("%T", cached))
	}
	return q.load(ctx, FetchMeta{})
}

// Refetch fetches regardless of staleness, at most once per RefetchWindow; throttled calls return the current state.
func (q *Query[T]) Refetch(ctx context.Context) State[T] {
	if !q.limiter.AllowN(q.client.clock.Now(), 1) {
		fetchesMetric.WithLabelValues("throttled").Inc()
		return q.State()
	}
	return q.load(ctx, FetchMeta{Refetch: true})
}

func (q *Query[T]) load(ctx context.Context, meta FetchMeta) State[T] {
	q.mux.Lock()
	q.state.IsLoading = true
	q.mux.Unlock()

	// The shared fetch outlives any single caller; each caller only stops waiting when its own ctx is done.
	fetchCtx := context.WithoutCancel(ctx)
	flight := q.client.flights.DoChan(q.key, func() (any, error) {
		data, err := q.fetch(fetchCtx, meta)
		if err != nil {
			return nil, err
		}
		return fetched[T]{data: data, updatedAt: q.client.put(q.key, data, q.opts.CacheTime)}, nil
	})
	var result any
	var err error
	select {
	case shared := <-flight:
		result, err = shared.Val, shared.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		fetchesMetric.WithLabelValues("error").Inc()
		var zero T
		return q.settle(zero, time.Time{}, fmt.Errorf("query '%s': %w", q.key, err))
	}
	done, isT := result.(fetched[T])
	if !isT {
		utils.RaiseInvariant("query", "unexpected_fetched_type", "Shared fetch returned a value of another type.",
			"key", q.key, "type", fmt.Sprintf("%T", result))
		var zero T
		return q.settle(zero, time.Time{}, fmt.Errorf("query '%s': key is shared by another result type", q.key))
	}
	fetchesMetric.WithLabelValues("fetched").Inc()
	return q.settle(done.data, done.updatedAt, nil)
}

type fetched[T any] struct {
	data      T
	updatedAt time.Time
}

// settle records the outcome of a fetch. Failures keep the previous data.
func (q *Query[T]) settle(data T, updatedAt time.Time, err error) State[T] {
	q.mux.Lock()
	defer q.mux.Unlock()
	q.state.IsLoading = false
	q.state.IsError = err != nil
	q.state.Err = err
	if err == nil {
		q.state.Data = data
		q.state.UpdatedAt = updatedAt
	}
	return q.state
}

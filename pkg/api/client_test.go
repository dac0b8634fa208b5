package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = `{
	"ngos": {
		"1": {"name": "Red Cross", "city": "Geneva"},
		"2": {"name": "Oxfam", "city": "Nairobi"},
		"5": {"name": "Care", "city": "Geneva"}
	},
	"volunteers": {
		"v1": {"name": "Ada", "hours": 12}
	}
}`

var errStoreDown = errors.New("document store is down")

// countingStore wraps the in-memory store, counts calls per operation and can fail on demand.
type countingStore struct {
	*docstore.Memory
	mux      sync.Mutex
	calls    map[string]int
	getMany  [][]string
	readErr  error
	writeErr error
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	memory := docstore.NewMemory()
	_, err := memory.Seed(context.Background(), strings.NewReader(testSeed))
	require.NoError(t, err)
	return &countingStore{Memory: memory, calls: make(map[string]int)}
}

func (s *countingStore) record(op string) (readErr, writeErr error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.calls[op]++
	return s.readErr, s.writeErr
}

func (s *countingStore) count(op string) int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.calls[op]
}

func (s *countingStore) failReads(err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.readErr = err
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err, _ := s.record("get"); err != nil {
		return nil, err
	}
	return s.Memory.Get(ctx, collection, id)
}

func (s *countingStore) GetMany(ctx context.Context, collection string, ids []string) (
	map[string]docstore.Document, error) {
	s.mux.Lock()
	s.getMany = append(s.getMany, ids)
	s.mux.Unlock()
	if err, _ := s.record("get_many"); err != nil {
		return nil, err
	}
	return s.Memory.GetMany(ctx, collection, ids)
}

func (s *countingStore) Query(ctx context.Context, collection string, constraints docstore.Constraints) (
	[]docstore.Document, error) {
	if err, _ := s.record("query"); err != nil {
		return nil, err
	}
	return s.Memory.Query(ctx, collection, constraints)
}

func (s *countingStore) Set(ctx context.Context, collection, id string, data docstore.Document,
	opts docstore.SetOptions) error {
	if _, err := s.record("set"); err != nil {
		return err
	}
	return s.Memory.Set(ctx, collection, id, data, opts)
}

// newTestClient builds a client with a fast retry policy; `tweak` may adjust the options.
func newTestClient(t *testing.T, store docstore.Store, tweak func(*Options)) *Client {
	t.Helper()
	opts := DefaultOptions()
	opts.BatchWindow = 5 * time.Millisecond
	opts.Retry = retry.Policy{Attempts: 3, Delay: time.Millisecond}
	if tweak != nil {
		tweak(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client, err := New(ctx, store, opts)
	require.NoError(t, err)
	return client
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil, DefaultOptions())
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.BatchedCollections = []Collection{"campaigns"}
	_, err = New(context.Background(), docstore.NewMemory(), opts)
	assert.Error(t, err)
}

func TestClient_GetDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("batched_and_cached", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		for range 3 {
			doc := client.GetDocument(ctx, NGOs, "1", false /*skipCache*/)
			require.NotNil(t, doc)
			assert.Equal(t, "Red Cross", doc["name"])
		}
		assert.Equal(t, 1, store.count("get_many"))
		assert.Equal(t, 0, store.count("get"))
		assert.Contains(t, client.CachedKeys(), "ngos:1")
	})
	t.Run("skip_cache_refetches", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		require.NotNil(t, client.GetDocument(ctx, NGOs, "1", false /*skipCache*/))
		require.NotNil(t, client.GetDocument(ctx, NGOs, "1", true /*skipCache*/))
		assert.Equal(t, 2, store.count("get_many"))
	})
	t.Run("unbatched_collection_reads_directly", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		doc := client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/)
		require.NotNil(t, doc)
		assert.Equal(t, "Ada", doc["name"])
		assert.Equal(t, 1, store.count("get"))
		assert.Equal(t, 0, store.count("get_many"))
		_, batched := client.BatchState(Volunteers)
		assert.False(t, batched)
	})
	t.Run("not_found_returns_nil", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		assert.Nil(t, client.GetDocument(ctx, NGOs, "404", false /*skipCache*/))
		assert.NotContains(t, client.CachedKeys(), "ngos:404", "Misses are not cached")
	})
	t.Run("unknown_collection_returns_nil", func(t *testing.T) {
		client := newTestClient(t, newCountingStore(t), nil)
		assert.Nil(t, client.GetDocument(ctx, Collection("campaigns"), "1", false /*skipCache*/))
	})
	t.Run("cache_disabled", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, func(opts *Options) { opts.CacheEnabled = false })
		require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
		require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
		assert.Equal(t, 2, store.count("get"))
		assert.Empty(t, client.CachedKeys())
	})
}

func TestClient_GetDocument_RetriesThenReturnsNil(t *testing.T) {
	ctx := context.Background()
	t.Run("batched", func(t *testing.T) {
		store := newCountingStore(t)
		store.failReads(errStoreDown)
		client := newTestClient(t, store, nil)
		assert.Nil(t, client.GetDocument(ctx, NGOs, "1", false /*skipCache*/))
		assert.Equal(t, 3, store.count("get_many"))
	})
	t.Run("direct", func(t *testing.T) {
		store := newCountingStore(t)
		store.failReads(errStoreDown)
		client := newTestClient(t, store, nil)
		assert.Nil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
		assert.Equal(t, 3, store.count("get"))
	})
}

func TestClient_RetryDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newCountingStore(t)
	store.failReads(errStoreDown)
	client := newTestClient(t, store, func(opts *Options) {
		opts.Clock = clock
		opts.Retry = retry.DefaultPolicy()
	})

	docs := make(chan []docstore.Document, 1)
	go func() {
		docs <- client.QueryCollection(context.Background(), NGOs, nil, "", false /*skipCache*/)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for attempt := 1; attempt < retry.DefaultAttempts; attempt++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, attempt, store.count("query"))
		clock.Advance(time.Second)
	}
	select {
	case got := <-docs:
		assert.NotNil(t, got)
		assert.Empty(t, got)
	case <-ctx.Done():
		t.Fatal("QueryCollection never returned")
	}
	assert.Equal(t, 3, store.count("query"))
}

func TestClient_GetDocuments_Coalesces(t *testing.T) {
	store := newCountingStore(t)
	client := newTestClient(t, store, func(opts *Options) { opts.BatchWindow = 50 * time.Millisecond })

	docs := client.GetDocuments(context.Background(), NGOs, []string{"1", "2", "5", "404", "1"})
	assert.Len(t, docs, 3)
	assert.Equal(t, "Care", docs["5"]["name"])
	assert.Equal(t, 1, store.count("get_many"), "All ids should share one bulk fetch")
	assert.ElementsMatch(t, []string{"1", "2", "5", "404"}, store.getMany[0])
}

func TestClient_QueryCollection(t *testing.T) {
	ctx := context.Background()
	geneva := docstore.Constraints{docstore.Where("city", docstore.OpEqual, "Geneva")}

	t.Run("cached", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		for range 2 {
			docs := client.QueryCollection(ctx, NGOs, geneva, "", false /*skipCache*/)
			assert.Len(t, docs, 2)
		}
		assert.Equal(t, 1, store.count("query"))
		assert.Contains(t, client.CachedKeys(), "ngos:query:"+geneva.Key())
	})
	t.Run("custom_cache_key", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		client.QueryCollection(ctx, NGOs, geneva, "geneva", false /*skipCache*/)
		assert.Contains(t, client.CachedKeys(), "ngos:query:geneva")
	})
	t.Run("failure_returns_empty", func(t *testing.T) {
		store := newCountingStore(t)
		store.failReads(errStoreDown)
		client := newTestClient(t, store, nil)
		docs := client.QueryCollection(ctx, NGOs, geneva, "", false /*skipCache*/)
		assert.NotNil(t, docs)
		assert.Empty(t, docs)
		assert.Equal(t, 3, store.count("query"))
		assert.Empty(t, client.CachedKeys(), "Failures are not cached")
	})
}

func TestClient_SetDocument_InvalidatesQueries(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)
	client := newTestClient(t, store, nil)
	nairobi := docstore.Constraints{docstore.Where("city", docstore.OpEqual, "Nairobi")}

	assert.Len(t, client.QueryCollection(ctx, NGOs, nairobi, "", false /*skipCache*/), 1)
	require.NotNil(t, client.GetDocument(ctx, NGOs, "5", false /*skipCache*/))
	require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))

	// The query never mentioned id 5, but moving it to Nairobi changes its result.
	require.NoError(t, client.SetDocument(ctx, NGOs, "5", docstore.Document{"city": "Nairobi"}, true /*merge*/))
	assert.NotContains(t, client.CachedKeys(), "ngos:5")
	assert.Contains(t, client.CachedKeys(), "volunteers:v1", "Other collections keep their cache")

	docs := client.QueryCollection(ctx, NGOs, nairobi, "", false /*skipCache*/)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, store.count("query"))

	doc := client.GetDocument(ctx, NGOs, "5", false /*skipCache*/)
	require.NotNil(t, doc)
	assert.Equal(t, "Care", doc["name"], "Merge keeps the other fields")
	assert.Equal(t, "Nairobi", doc["city"])
}

func TestClient_SetDocument_FailsLoud(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)
	store.writeErr = errStoreDown
	client := newTestClient(t, store, nil)
	client.QueryCollection(ctx, NGOs, nil, "", false /*skipCache*/)

	err := client.SetDocument(ctx, NGOs, "1", docstore.Document{"name": "x"}, true /*merge*/)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, store.count("set"), "Writes are not retried")
	assert.Len(t, client.CachedKeys(), 1, "A failed write doesn't invalidate anything")

	assert.Error(t, client.SetDocument(ctx, Collection("campaigns"), "1", docstore.Document{}, true /*merge*/))
}

func TestClient_CacheTtl(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newCountingStore(t)
	client := newTestClient(t, store, func(opts *Options) { opts.Clock = clock })
	ctx := context.Background()

	require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
	clock.Advance(5 * time.Minute)
	require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
	assert.Equal(t, 1, store.count("get"))

	clock.Advance(time.Second)
	require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
	assert.Equal(t, 2, store.count("get"), "Expired entries are fetched again")
}

func TestClient_ClearCache(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, newCountingStore(t), nil)
	require.NotNil(t, client.GetDocument(ctx, Volunteers, "v1", false /*skipCache*/))
	client.QueryCollection(ctx, NGOs, nil, "", false /*skipCache*/)

	assert.Equal(t, 1, client.ClearCache("ngos:"))
	assert.Equal(t, []string{"volunteers:v1"}, client.CachedKeys())
	assert.Equal(t, 1, client.ClearCache(""))
}

func TestClient_GetDocument_MissingIsNotRetried(t *testing.T) {
	ctx := context.Background()
	t.Run("direct", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		assert.Nil(t, client.GetDocument(ctx, Volunteers, "missing", false /*skipCache*/))
		assert.Equal(t, 1, store.count("get"))
		assert.Empty(t, client.CachedKeys(), "Missing documents are not cached")
	})
	t.Run("batched", func(t *testing.T) {
		store := newCountingStore(t)
		client := newTestClient(t, store, nil)
		assert.Nil(t, client.GetDocument(ctx, NGOs, "missing", false /*skipCache*/))
		assert.Equal(t, 1, store.count("get_many"))
	})
}

func TestClient_QueryLikeIdsKeepTheirOwnKeys(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)
	client := newTestClient(t, store, nil)
	geneva := docstore.Constraints{docstore.Where("city", docstore.OpEqual, "Geneva")}

	require.NoError(t, client.SetDocument(ctx, NGOs, "query:geneva", docstore.Document{"name": "Geneva Aid"}, true))
	require.NotNil(t, client.GetDocument(ctx, NGOs, "query:geneva", false /*skipCache*/))
	client.QueryCollection(ctx, NGOs, geneva, "geneva", false /*skipCache*/)
	assert.ElementsMatch(t, []string{"ngos:~query:geneva", "ngos:query:geneva"}, client.CachedKeys())

	// The custom query key and the document id don't overwrite each other.
	doc := client.GetDocument(ctx, NGOs, "query:geneva", false /*skipCache*/)
	require.NotNil(t, doc)
	assert.Equal(t, "Geneva Aid", doc["name"])

	// A write to another document only drops the queries.
	require.NoError(t, client.SetDocument(ctx, NGOs, "1", docstore.Document{"city": "Bern"}, true /*merge*/))
	assert.Equal(t, []string{"ngos:~query:geneva"}, client.CachedKeys())
}

func TestClient_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)
	client := newTestClient(t, store, nil)
	require.NoError(t, client.SetDocument(ctx, Volunteers, "v2",
		docstore.Document{"name": "Lin", "skills": []any{"cooking"}}, true /*merge*/))

	doc := client.GetDocument(ctx, Volunteers, "v2", false /*skipCache*/)
	require.NotNil(t, doc)
	doc["name"] = "changed by caller"
	doc["skills"].([]any)[0] = "changed by caller"
	again := client.GetDocument(ctx, Volunteers, "v2", false /*skipCache*/)
	assert.Equal(t, "Lin", again["name"])
	assert.Equal(t, []any{"cooking"}, again["skills"])
	assert.Equal(t, 1, store.count("get"), "The second read is a cache hit")

	docs := client.QueryCollection(ctx, NGOs, nil, "", false /*skipCache*/)
	require.NotEmpty(t, docs)
	docs[0]["name"] = "changed by caller"
	docs = client.QueryCollection(ctx, NGOs, nil, "", false /*skipCache*/)
	assert.NotContains(t, []any{docs[0]["name"], docs[1]["name"], docs[2]["name"]}, "changed by caller")
	assert.Equal(t, 1, store.count("query"))
}

func TestClient_GetDocuments_BoundedFanOut(t *testing.T) {
	store := newCountingStore(t)
	client := newTestClient(t, store, func(opts *Options) { opts.MaxBatchSize = 2 })

	docs := client.GetDocuments(context.Background(), NGOs, []string{"1", "2", "5", "404", "405"})
	assert.Len(t, docs, 3)
	store.mux.Lock()
	defer store.mux.Unlock()
	for _, ids := range store.getMany {
		assert.LessOrEqual(t, len(ids), 2)
	}
}

func TestClient_GetDocuments_CancelledContext(t *testing.T) {
	store := newCountingStore(t)
	client := newTestClient(t, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, client.GetDocuments(ctx, NGOs, []string{"1", "2"}))
	assert.Equal(t, 0, store.count("get_many"))
}

// Package api is the only entry point callers use to read and write documents. It combines the document cache, the
// per-collection batch processors and the read retry policy.
//
// Reads never fail: any error is logged and turned into a nil document or an empty list, so a list may render empty
// when the store is down. Writes always return their error.
//
// Known gap: a write's invalidation can race with a read that is still in flight; that read may cache the old
// document again after the invalidation. There is no versioning to detect it.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nobletooth/kindly/pkg/batch"
	"github.com/nobletooth/kindly/pkg/cache"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/retry"
	"github.com/nobletooth/kindly/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Options configures a Client.
type Options struct {
	CacheEnabled       bool
	CacheTtl           time.Duration
	CacheShardCount    int
	BatchedCollections []Collection // Collections read through a batch processor.
	BatchWindow        time.Duration
	MaxBatchSize       int
	Retry              retry.Policy
	Clock              clockwork.Clock // Defaults to the real clock.
}

// DefaultOptions mirrors the flag defaults.
func DefaultOptions() Options {
	return Options{
		CacheEnabled:       true,
		CacheTtl:           5 * time.Minute,
		CacheShardCount:    16,
		BatchedCollections: []Collection{NGOs, Users, Projects, Donations},
		BatchWindow:        10 * time.Millisecond,
		MaxBatchSize:       10,
		Retry:              retry.DefaultPolicy(),
	}
}

// Client reads documents through the cache and the batch processors, and writes them straight to the store.
// Build one per process and share it.
type Client struct {
	store      docstore.Store
	cache      cache.Layer[any] // Holds docstore.Document and []docstore.Document values.
	processors map[Collection]*batch.Processor[docstore.Document]
	retry      retry.Policy
	clock      clockwork.Clock
	fanOut     int // Concurrent single reads started by GetDocuments.
}

// New builds the client. Batch processors are created here once and live as long as `ctx`.
func New(ctx context.Context, store docstore.Store, opts Options) (*Client, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil document store")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	var layer cache.Layer[any] = cache.NewNoOp[any]()
	if opts.CacheEnabled {
		layer = cache.NewMemory[any](opts.Clock, opts.CacheTtl, opts.CacheShardCount)
	}

	client := &Client{
		store:      store,
		cache:      layer,
		processors: make(map[Collection]*batch.Processor[docstore.Document], len(opts.BatchedCollections)),
		retry:      opts.Retry,
		clock:      opts.Clock,
		fanOut:     max(opts.MaxBatchSize, 1),
	}
	for _, collection := range opts.BatchedCollections {
		if !collection.Valid() {
			return nil, fmt.Errorf("cannot batch unknown collection '%s'", collection)
		}
		client.processors[collection] = batch.NewProcessor(ctx, string(collection),
			client.bulkFetcher(collection),
			batch.Options{Window: opts.BatchWindow, MaxBatchSize: opts.MaxBatchSize, Clock: opts.Clock})
	}
	return client, nil
}

// bulkFetcher returns the retried multi-id fetch a processor uses.
func (c *Client) bulkFetcher(collection Collection) batch.FetchFn[docstore.Document] {
	return func(ctx context.Context, ids []string) (map[string]docstore.Document, error) {
		return retry.Do(ctx, c.clock, c.retry, "get_many",
			func(ctx context.Context) (map[string]docstore.Document, error) {
				return c.store.GetMany(ctx, string(collection), ids)
			})
	}
}

// GetDocument returns a single document, or nil if it doesn't exist or can't be read.
// With `skipCache` the cache isn't consulted, but the fetched document still refreshes it. The returned document is
// the caller's own copy.
func (c *Client) GetDocument(ctx context.Context, collection Collection, id string, skipCache bool) docstore.Document {
	if !collection.Valid() {
		slog.Error("Refusing to read from an unknown collection.", "collection", collection, "id", id)
		return nil
	}
	key := DocumentKey(collection, id)
	if !skipCache {
		if cached, found := c.cache.Get(key); found {
			if doc, isDoc := cached.(docstore.Document); isDoc {
				return docstore.Clone(doc)
			}
			utils.RaiseInvariant("api", "unexpected_document_cache_value",
				"Document cache key holds a value of another type.", "key", key, "type", fmt.Sprintf("%T", cached))
		}
	}

	var doc docstore.Document
	var err error
	if processor, batched := c.processors[collection]; batched {
		doc, err = processor.Request(ctx, id)
	} else {
		doc, err = retry.Do(ctx, c.clock, c.retry, "get_document",
			func(ctx context.Context) (docstore.Document, error) {
				doc, err := c.store.Get(ctx, string(collection), id)
				if errors.Is(err, docstore.ErrNotFound) {
					return nil, nil // A missing document is an answer, not a failure to retry.
				}
				return doc, err
			})
	}
	if doc == nil && err == nil {
		err = fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) || errors.Is(err, docstore.ErrNotFound) {
			slog.Info("Document not found.", "collection", collection, "id", id)
		} else {
			slog.Error("Failed to get document.", "collection", collection, "id", id, "error", err)
		}
		return nil
	}
	c.cache.Set(key, doc)
	return docstore.Clone(doc) // Callers joined on one batched id received the same map.
}

// GetDocuments reads several documents of one collection concurrently so batched collections coalesce them into
// as few bulk fetches as possible. Documents that can't be read are missing from the result.
func (c *Client) GetDocuments(ctx context.Context, collection Collection, ids []string) map[string]docstore.Document {
	var (
		mux  sync.Mutex
		docs = make(map[string]docstore.Document, len(ids))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.fanOut) // More readers than a batch holds would only wait for the next dispatch.
	for _, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			doc := c.GetDocument(groupCtx, collection, id, false /*skipCache*/)
			if doc == nil {
				return nil
			}
			mux.Lock()
			defer mux.Unlock()
			docs[id] = doc
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		slog.Warn("Stopped reading documents.", "collection", collection, "read", len(docs), "requested", len(ids),
			"error", err)
	}
	return docs
}

// QueryCollection returns copies of the documents of `collection` matching `constraints`, or an empty list on any
// error.
// Results are cached under `cacheKey` when given, or under a serialization of the constraints otherwise; both are
// namespaced by the collection so writes can invalidate them.
func (c *Client) QueryCollection(ctx context.Context, collection Collection, constraints docstore.Constraints,
	cacheKey string, skipCache bool) []docstore.Document {
	if !collection.Valid() {
		slog.Error("Refusing to query an unknown collection.", "collection", collection)
		return []docstore.Document{}
	}
	if cacheKey == "" {
		cacheKey = constraints.Key()
	}
	key := QueryPrefix(collection) + cacheKey
	if !skipCache {
		if cached, found := c.cache.Get(key); found {
			if docs, isList := cached.([]docstore.Document); isList {
				return docstore.CloneAll(docs)
			}
			utils.RaiseInvariant("api", "unexpected_query_cache_value",
				"Query cache key holds a value of another type.", "key", key, "type", fmt.Sprintf("%T", cached))
		}
	}

	docs, err := retry.Do(ctx, c.clock, c.retry, "query_collection",
		func(ctx context.Context) ([]docstore.Document, error) {
			return c.store.Query(ctx, string(collection), constraints)
		})
	if err != nil {
		slog.Error("Failed to query collection.", "collection", collection, "key", key, "error", err)
		return []docstore.Document{}
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	c.cache.Set(key, docs)
	return docstore.CloneAll(docs)
}

// SetDocument writes `data` straight to the store and, on success, drops the cached document and every cached
// query of the collection, since any of them may have changed. The write is not retried.
func (c *Client) SetDocument(ctx context.Context, collection Collection, id string, data docstore.Document,
	merge bool) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection '%s'", collection)
	}
	if err := c.store.Set(ctx, string(collection), id, data, docstore.SetOptions{Merge: merge}); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	c.cache.Delete(DocumentKey(collection, id))
	invalidated := c.cache.Clear(QueryPrefix(collection))
	slog.Debug("Document written.", "collection", collection, "id", id, "invalidatedQueries", invalidated)
	return nil
}

// ClearCache drops every cached entry whose key starts with `prefix`; an empty prefix drops everything.
func (c *Client) ClearCache(prefix string) int {
	return c.cache.Clear(prefix)
}

// CachedKeys lists the keys currently held by the cache.
func (c *Client) CachedKeys() []string {
	return c.cache.Keys()
}

// BatchState reports the dispatch state of the collection's batch processor; false if it isn't batched.
func (c *Client) BatchState(collection Collection) (batch.State, bool) {
	processor, batched := c.processors[collection]
	if !batched {
		return batch.Idle, false
	}
	return processor.State(), true
}

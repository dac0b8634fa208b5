package api

import (
	"flag"
	"fmt"
	"time"

	"github.com/nobletooth/kindly/pkg/retry"
)

var (
	cacheEnabled = flag.Bool("enable_doc_cache", true, "Enable the in-memory document cache.")
	cacheTtl     = flag.Duration("doc_cache_ttl", 5*time.Minute,
		"How long documents and query results stay in the document cache.")
	cacheShardCount = flag.Int("doc_cache_shard_count", 16,
		"The number of shards of the document cache; each shard has its own lock.")

	batchedCollections = flag.String("batched_collections", "ngos,users,projects,donations",
		"Comma separated collections whose single document reads are coalesced into bulk fetches.")
	batchWindow = flag.Duration("batch_window", 10*time.Millisecond,
		"How long a batch processor waits for more ids before fetching.")
	batchMaxSize = flag.Int("batch_max_size", 10, "The maximum number of ids in a single bulk fetch.")

	retryAttempts = flag.Int("retry_attempts", retry.DefaultAttempts,
		"Total attempts of a document store read before giving up.")
	retryDelay = flag.Duration("retry_delay", retry.DefaultDelay, "Fixed pause between two read attempts.")
)

// OptionsFromFlags builds client options from the command line flags.
func OptionsFromFlags() (Options, error) {
	collections, err := ParseCollections(*batchedCollections)
	if err != nil {
		return Options{}, fmt.Errorf("invalid --batched_collections: %w", err)
	}
	if *batchMaxSize <= 0 {
		return Options{}, fmt.Errorf("expected a positive --batch_max_size, got %d", *batchMaxSize)
	}
	if *cacheShardCount <= 0 {
		return Options{}, fmt.Errorf("expected a positive --doc_cache_shard_count, got %d", *cacheShardCount)
	}
	return Options{
		CacheEnabled:       *cacheEnabled,
		CacheTtl:           *cacheTtl,
		CacheShardCount:    *cacheShardCount,
		BatchedCollections: collections,
		BatchWindow:        *batchWindow,
		MaxBatchSize:       *batchMaxSize,
		Retry:              retry.Policy{Attempts: *retryAttempts, Delay: *retryDelay},
	}, nil
}

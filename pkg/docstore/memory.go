package docstore

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docstore_requests_total",
	Help: "Total number of requests served by the in-process document store.",
}, []string{"op" /* get | get_many | query | set */, "collection"})

// Memory is an in-process Store. It backs the kindly binary when no remote store is configured, and tests.
type Memory struct { // Implements Store.
	mux         sync.RWMutex
	collections map[ /*collection*/ string]map[ /*id*/ string]Document
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Document)}
}

// withId returns a copy of `doc` carrying its id. Top-level fields are copied so callers can't mutate the store.
func withId(id string, doc Document) Document {
	out := maps.Clone(doc)
	if out == nil {
		out = make(Document, 1)
	}
	out[IdField] = id
	return out
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	storeRequests.WithLabelValues("get", collection).Inc()
	m.mux.RLock()
	defer m.mux.RUnlock()
	doc, found := m.collections[collection][id]
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return withId(id, doc), nil
}

func (m *Memory) GetMany(ctx context.Context, collection string, ids []string) (map[string]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	storeRequests.WithLabelValues("get_many", collection).Inc()
	m.mux.RLock()
	defer m.mux.RUnlock()
	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if doc, found := m.collections[collection][id]; found {
			out[id] = withId(id, doc)
		}
	}
	return out, nil
}

func (m *Memory) Query(ctx context.Context, collection string, constraints Constraints) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	storeRequests.WithLabelValues("query", collection).Inc()

	m.mux.RLock()
	ids := slices.Sorted(maps.Keys(m.collections[collection])) // Stable default order.
	matched := make([]Document, 0)
	for _, id := range ids {
		doc := m.collections[collection][id]
		if matchesAll(doc, constraints) {
			matched = append(matched, withId(id, doc))
		}
	}
	m.mux.RUnlock()

	orderings := make([]Constraint, 0)
	limit := -1
	for _, constraint := range constraints {
		switch constraint.Kind {
		case KindOrderBy:
			orderings = append(orderings, constraint)
		case KindLimit:
			limit = constraint.Limit
		}
	}
	if len(orderings) > 0 {
		slices.SortStableFunc(matched, func(a, b Document) int {
			for _, ordering := range orderings {
				order := compareValues(a[ordering.Field], b[ordering.Field])
				if ordering.Descending {
					order = -order
				}
				if order != 0 {
					return order
				}
			}
			return 0
		})
	}
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// matchesAll evaluates every where constraint against `doc`.
func matchesAll(doc Document, constraints Constraints) bool {
	for _, constraint := range constraints {
		if constraint.Kind == KindWhere && !constraint.matches(doc) {
			return false
		}
	}
	return true
}

func (m *Memory) Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("empty document id in collection %s", collection)
	}
	storeRequests.WithLabelValues("set", collection).Inc()
	m.mux.Lock()
	defer m.mux.Unlock()

	docs, found := m.collections[collection]
	if !found {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	stored := make(Document, len(data))
	if existing, exists := docs[id]; exists && opts.Merge {
		maps.Copy(stored, existing)
	}
	maps.Copy(stored, data)
	delete(stored, IdField) // The id lives in the key.
	docs[id] = stored
	return nil
}

// Seed loads documents from a JSON object shaped as {"<collection>": {"<id>": {...document...}}}.
func (m *Memory) Seed(ctx context.Context, r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed: %w", err)
	}
	seed, err := DecodeJSON(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to decode seed: %w", err)
	}
	count := 0
	for _, collection := range slices.Sorted(maps.Keys(seed)) {
		docs, isObject := seed[collection].(map[string]any)
		if !isObject {
			return count, fmt.Errorf("collection %s: expected an object of documents", collection)
		}
		for _, id := range slices.Sorted(maps.Keys(docs)) {
			doc, isObject := docs[id].(map[string]any)
			if !isObject {
				return count, fmt.Errorf("document %s/%s: expected an object", collection, id)
			}
			if err := m.Set(ctx, collection, id, doc, SetOptions{}); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

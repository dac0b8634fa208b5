// Package docstore describes the external document store kindly reads from and writes to.
// The store is an opaque collaborator: kindly only relies on the four primitives of Store.

package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when the document doesn't exist.
var ErrNotFound = errors.New("document not found")

// IdField is the field that carries the document id in documents returned by a Store.
const IdField = "id"

// Document is a schemaless record. Values are JSON compatible: string, float64, bool, nil, []any and map[string]any.
type Document = map[string]any

// SetOptions controls how Store.Set writes a document.
type SetOptions struct {
	Merge bool // Merge top-level fields into the existing document instead of replacing it.
}

// Store is the document store contract.
type Store interface {
	// Get returns a single document or an error wrapping ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Query returns every document of the collection matching all constraints.
	Query(ctx context.Context, collection string, constraints Constraints) ([]Document, error)
	// Set writes a document.
	Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error
	// GetMany returns the documents of the given ids. Missing documents are omitted from the map.
	GetMany(ctx context.Context, collection string, ids []string) (map[string]Document, error)
}

// Clone deep copies a document so the copy can be handed out while the original stays cached.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(Document)
}

// CloneAll deep copies a list of documents.
func CloneAll(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = Clone(doc)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/nobletooth/kindly/pkg/api"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/model"
)

// ErrNoDocument is reported by document queries when the api client has nothing for the id, either because it
// doesn't exist or because it couldn't be read.
var ErrNoDocument = errors.New("document unavailable")

// DocumentQuery reads one document of `collection` and decodes it into T. Refetches skip the document cache.
func DocumentQuery[T any](client *Client, documents *api.Client, collection api.Collection, id string,
	opts Options) *Query[T] {
	return New(client, api.DocumentKey(collection, id), func(ctx context.Context, meta FetchMeta) (T, error) {
		doc := documents.GetDocument(ctx, collection, id, meta.Refetch /*skipCache*/)
		if doc == nil {
			var zero T
			return zero, fmt.Errorf("%w: %s/%s", ErrNoDocument, collection, id)
		}
		return model.Decode[T](doc)
	}, opts)
}

// CollectionQuery runs `constraints` against `collection` and decodes every result into T. An unavailable store
// yields an empty list rather than an error.
func CollectionQuery[T any](client *Client, documents *api.Client, collection api.Collection,
	constraints docstore.Constraints, opts Options) *Query[[]T] {
	return New(client, api.QueryPrefix(collection)+constraints.Key(),
		func(ctx context.Context, meta FetchMeta) ([]T, error) {
			docs := documents.QueryCollection(ctx, collection, constraints, "" /*cacheKey*/, meta.Refetch)
			return model.DecodeAll[T](docs)
		}, opts)
}

// SetInput is the argument of a document write.
type SetInput struct {
	ID    string
	Data  docstore.Document
	Merge bool
}

// SetDocumentMutation writes documents of `collection` and invalidates every query of that collection, plus any
// extra prefixes given.
func SetDocumentMutation(client *Client, documents *api.Client, collection api.Collection,
	invalidateKeys ...string) *Mutation[SetInput, SetInput] {
	invalidateKeys = append([]string{string(collection) + ":"}, invalidateKeys...)
	return NewMutation(client, func(ctx context.Context, in SetInput) (SetInput, error) {
		if in.ID == "" {
			return in, errors.New("expected a document id")
		}
		return in, documents.SetDocument(ctx, collection, in.ID, in.Data, in.Merge)
	}, invalidateKeys...)
}

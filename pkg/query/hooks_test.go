package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nobletooth/kindly/pkg/api"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/model"
	"github.com/nobletooth/kindly/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hooksSeed = `{
	"ngos": {
		"1": {"name": "Red Cross", "city": "Geneva", "verified": true, "rating": 4.5},
		"2": {"name": "Oxfam", "city": "Nairobi", "verified": false}
	},
	"projects": {
		"p1": {"ngoId": "1", "title": "Wells", "goalAmount": 1000, "raisedAmount": 250}
	}
}`

func newHooksFixture(t *testing.T) (*Client, *api.Client) {
	t.Helper()
	store := docstore.NewMemory()
	_, err := store.Seed(context.Background(), strings.NewReader(hooksSeed))
	require.NoError(t, err)

	opts := api.DefaultOptions()
	opts.BatchWindow = time.Millisecond
	opts.Retry = retry.Policy{Attempts: 1}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	documents, err := api.New(ctx, store, opts)
	require.NoError(t, err)
	return NewClient(clockwork.NewFakeClock()), documents
}

func TestDocumentQuery(t *testing.T) {
	client, documents := newHooksFixture(t)

	ngo := DocumentQuery[model.NGO](client, documents, api.NGOs, "1", DefaultOptions())
	assert.Equal(t, "ngos:1", ngo.Key())
	state := ngo.Fetch(context.Background())
	require.NoError(t, state.Err)
	assert.Equal(t, model.NGO{ID: "1", Name: "Red Cross", City: "Geneva", Verified: true, Rating: 4.5}, state.Data)

	project := DocumentQuery[model.Project](client, documents, api.Projects, "p1", DefaultOptions())
	state2 := project.Fetch(context.Background())
	require.NoError(t, state2.Err)
	assert.InDelta(t, 0.25, state2.Data.Progress(), 1e-9)

	missing := DocumentQuery[model.NGO](client, documents, api.NGOs, "404", DefaultOptions()).
		Fetch(context.Background())
	assert.True(t, missing.IsError)
	assert.ErrorIs(t, missing.Err, ErrNoDocument)
}

func TestCollectionQuery(t *testing.T) {
	client, documents := newHooksFixture(t)

	verified := CollectionQuery[model.NGO](client, documents, api.NGOs,
		docstore.Constraints{docstore.Where("verified", docstore.OpEqual, true)}, DefaultOptions())
	assert.True(t, strings.HasPrefix(verified.Key(), "ngos:query:"))
	state := verified.Fetch(context.Background())
	require.NoError(t, state.Err)
	require.Len(t, state.Data, 1)
	assert.Equal(t, "Red Cross", state.Data[0].Name)
}

func TestSetDocumentMutation_InvalidatesQueries(t *testing.T) {
	client, documents := newHooksFixture(t)
	ctx := context.Background()

	verified := CollectionQuery[model.NGO](client, documents, api.NGOs,
		docstore.Constraints{docstore.Where("verified", docstore.OpEqual, true)}, DefaultOptions())
	ngo := DocumentQuery[model.NGO](client, documents, api.NGOs, "2", DefaultOptions())
	require.Len(t, verified.Fetch(ctx).Data, 1)
	require.False(t, ngo.Fetch(ctx).Data.Verified)

	mutation := SetDocumentMutation(client, documents, api.NGOs)
	_, err := mutation.Mutate(ctx, SetInput{ID: "2", Data: docstore.Document{"verified": true}, Merge: true})
	require.NoError(t, err)
	assert.False(t, mutation.State().IsLoading)
	assert.False(t, mutation.State().IsError)
	assert.Empty(t, client.Keys())

	assert.Len(t, verified.Fetch(ctx).Data, 2)
	updated := ngo.Fetch(ctx).Data
	assert.True(t, updated.Verified)
	assert.Equal(t, "Oxfam", updated.Name)
}

func TestMutation_FailureKeepsQueries(t *testing.T) {
	client := NewClient(clockwork.NewFakeClock())
	New(client, "ngos:1", func(context.Context, FetchMeta) (int, error) { return 1, nil }, DefaultOptions()).
		Fetch(context.Background())
	errRejected := errors.New("rejected")
	mutation := NewMutation(client, func(context.Context, string) (int, error) {
		return 0, errRejected
	}, "ngos:")

	_, err := mutation.Mutate(context.Background(), "anything")
	assert.ErrorIs(t, err, errRejected)
	state := mutation.State()
	assert.True(t, state.IsError)
	assert.ErrorIs(t, state.Err, errRejected)
	assert.False(t, state.IsLoading)
	assert.Equal(t, []string{"ngos:1"}, client.Keys())
}

func TestSetDocumentMutation_RequiresId(t *testing.T) {
	client, documents := newHooksFixture(t)
	_, err := SetDocumentMutation(client, documents, api.Users).Mutate(context.Background(), SetInput{})
	assert.Error(t, err)
}

package api

import (
	"strings"
	"testing"
	"time"

	"github.com/nobletooth/kindly/pkg/config"
	"github.com/nobletooth/kindly/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCollections(t *testing.T) {
	for _, testCase := range []struct {
		name     string
		list     string
		expected []Collection
		wantErr  bool
	}{
		{name: "empty", list: "", expected: []Collection{}},
		{name: "defaults", list: "ngos,users,projects,donations", expected: []Collection{NGOs, Users, Projects, Donations}},
		{name: "spaces_and_case", list: " NGOs , volunteers,", expected: []Collection{NGOs, Volunteers}},
		{name: "duplicates", list: "users,users", expected: []Collection{Users}},
		{name: "unknown", list: "ngos,campaigns", wantErr: true},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := ParseCollections(testCase.list)
			if testCase.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, got)
		})
	}
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "donations:query:", QueryPrefix(Donations))
	for _, testCase := range []struct {
		id       string
		expected string
	}{
		{id: "5", expected: "ngos:5"},
		{id: "queries", expected: "ngos:queries"},
		{id: "query:geneva", expected: "ngos:~query:geneva"},
		{id: "~query:geneva", expected: "ngos:~~query:geneva"},
		{id: "~5", expected: "ngos:~~5"},
	} {
		t.Run(testCase.id, func(t *testing.T) {
			key := DocumentKey(NGOs, testCase.id)
			assert.Equal(t, testCase.expected, key)
			assert.False(t, strings.HasPrefix(key, QueryPrefix(NGOs)))
		})
	}
}

func TestOptionsFromFlags(t *testing.T) {
	opts, err := OptionsFromFlags()
	require.NoError(t, err)
	defaults := DefaultOptions()
	assert.Equal(t, defaults, opts)

	config.SetTestFlag(t, "batched_collections", "volunteers")
	config.SetTestFlag(t, "batch_window", "25ms")
	config.SetTestFlag(t, "retry_attempts", "5")
	opts, err = OptionsFromFlags()
	require.NoError(t, err)
	assert.Equal(t, []Collection{Volunteers}, opts.BatchedCollections)
	assert.Equal(t, 25*time.Millisecond, opts.BatchWindow)
	assert.Equal(t, retry.Policy{Attempts: 5, Delay: retry.DefaultDelay}, opts.Retry)

	config.SetTestFlag(t, "batch_max_size", "0")
	_, err = OptionsFromFlags()
	assert.Error(t, err)
}

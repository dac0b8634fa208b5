package scan

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGlob(t *testing.T) {
	keys := []string{"ngos:1", "ngos:2", "ngos:query:[]", "users:12", "donations:query:big"}

	for _, testCase := range []struct {
		name     string
		glob     string
		expected []string
	}{
		{name: "match all", glob: "*", expected: keys},
		{name: "match with ?", glob: "ngos:?", expected: []string{"ngos:1", "ngos:2"}},
		{
			name:     "match a collection",
			glob:     "ngos:*",
			expected: []string{"ngos:1", "ngos:2", "ngos:query:[]"},
		},
		{
			name:     "match every query",
			glob:     "*:query:*",
			expected: []string{"ngos:query:[]", "donations:query:big"},
		},
		{name: "match with a set", glob: "users:1[0-9]", expected: []string{"users:12"}},
		{name: "no match", glob: "projects:*", expected: nil},
		{name: "invalid pattern", glob: "ngos:[", expected: nil},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			got := slices.Collect(MatchGlob(testCase.glob, slices.Values(keys)))
			assert.Equal(t, testCase.expected, got)
		})
	}
}

func TestMatchGlob_StopsEarly(t *testing.T) {
	var got []string
	for key := range MatchGlob("ngos:*", slices.Values([]string{"ngos:1", "ngos:2", "ngos:3"})) {
		got = append(got, key)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"ngos:1", "ngos:2"}, got)
}

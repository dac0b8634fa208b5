// Cached keys are listed through glob patterns, as in Redis' KEYS command.

package scan

import (
	"iter"

	"v.io/v23/glob"
)

// MatchGlob yields the `keys` matching `pattern`. An invalid pattern matches nothing.
// Patterns are matched against the whole key as a single element, so `*` never spans a '/'.
func MatchGlob(pattern string, keys iter.Seq[string]) iter.Seq[string] {
	parsedPattern, err := glob.Parse(pattern)
	if err != nil {
		return func(yield func(string) bool) {}
	}
	matcher := parsedPattern.Head()
	return func(yield func(string) bool) {
		for key := range keys {
			if matcher.Match(key) && !yield(key) {
				return
			}
		}
	}
}

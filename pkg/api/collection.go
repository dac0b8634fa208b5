package api

import (
	"fmt"
	"slices"
	"strings"
)

// Collection is one of the logical collections of the document store.
type Collection string

const (
	NGOs       Collection = "ngos"
	Users      Collection = "users"
	Projects   Collection = "projects"
	Donations  Collection = "donations"
	Volunteers Collection = "volunteers"
)

// AllCollections lists every collection kindly knows about.
var AllCollections = []Collection{NGOs, Users, Projects, Donations, Volunteers}

// Valid reports whether `c` is a known collection.
func (c Collection) Valid() bool {
	return slices.Contains(AllCollections, c)
}

// ParseCollection maps a collection name onto a Collection.
func ParseCollection(name string) (Collection, error) {
	collection := Collection(strings.ToLower(strings.TrimSpace(name)))
	if !collection.Valid() {
		return "", fmt.Errorf("unknown collection '%s'", name)
	}
	return collection, nil
}

// ParseCollections parses a comma separated list of collections, e.g. "ngos,users". Empty items are skipped.
func ParseCollections(list string) ([]Collection, error) {
	collections := make([]Collection, 0)
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		collection, err := ParseCollection(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(collections, collection) {
			collections = append(collections, collection)
		}
	}
	return collections, nil
}

const (
	queryNamespace = "query:"
	// escapedIdMarker starts every escaped id. Ids starting with the query namespace or with the marker itself are
	// escaped, so document keys never fall under QueryPrefix and distinct ids keep distinct keys.
	escapedIdMarker = "~"
)

// DocumentKey is the cache key of a single document, e.g. "ngos:5". An id such as "query:x" becomes "ngos:~query:x".
func DocumentKey(collection Collection, id string) string {
	if strings.HasPrefix(id, queryNamespace) || strings.HasPrefix(id, escapedIdMarker) {
		id = escapedIdMarker + id
	}
	return string(collection) + ":" + id
}

// QueryPrefix namespaces every cached query result of a collection so a write can drop them all at once.
func QueryPrefix(collection Collection) string {
	return string(collection) + ":" + queryNamespace
}

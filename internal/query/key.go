package query

import (
	"net/url"
	"strings"
)

// Key identifies a cached read: the operation name followed by its
// parameters, e.g. Key{"documents", workspaceID}.
type Key []string

// String is the deterministic form used for map lookups and persistence.
// Segments are path-escaped so "/" never appears inside one.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// HasPrefix reports whether k starts with every segment of prefix.
// An empty prefix matches all keys.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) Append(parts ...string) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

package cache

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalKey builds the cache key of a request: its path followed by the query
// string with parameters sorted by name (values keep their original order).
// Two requests that differ only in parameter order share a key.
//
//	CanonicalKey("/api/tracks/type/SINGLE", url.Values{"page": {"2"}}) == "/api/tracks/type/SINGLE?page=2"
func CanonicalKey(path string, query url.Values) string {
	if path == "" {
		path = "/"
	}
	if len(query) == 0 {
		return path
	}

	names := make([]string, 0, len(query))
	for name, values := range query {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return path
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		escaped := url.QueryEscape(name)
		for _, v := range query[name] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(escaped)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

package invalidation

import (
	"slices"
	"strings"
)

// Backstop patterns purged by every request. Cross-entity denormalization
// (track listings embedding artist names, counters in detail views) is not
// tracked precisely, so every play and search response goes on each write.
var backstop = []string{"*play*", "*search*"}

// Request asks for every key an entity kind (optionally one instance) may
// appear in to be purged.
type Request struct {
	Kind          Kind
	ID            string
	CascadeSearch bool
}

// Patterns returns the glob patterns covering r, in a stable order and
// without duplicates.
func (r Request) Patterns() []string {
	c := r.Kind.Collection()
	k := string(r.Kind)

	patterns := []string{"/api/" + c + "*"}
	// An ID containing glob characters is already covered by the collection pattern.
	if r.ID != "" && !hasGlobMeta(r.ID) {
		patterns = append(patterns, "/api/"+c+"/"+r.ID+"*")
	}
	patterns = append(patterns, "/api/"+c+"/play*", "/api/"+k+"/play*")
	if r.CascadeSearch {
		patterns = append(patterns,
			"/api/search*",
			"/api/*/search*",
			"/search-all*",
			"/api/"+c+"/search*",
			"/api/users/search*",
			"/api/user/search*",
		)
	}
	patterns = append(patterns, backstop...)
	return dedupe(patterns)
}

func (r Request) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	if r.ID != "" {
		b.WriteByte(':')
		b.WriteString(r.ID)
	}
	if r.CascadeSearch {
		b.WriteString("+search")
	}
	return b.String()
}

// Plan is the full invalidation work for one mutation.
type Plan struct {
	// Requests are pattern-based purges.
	Requests []Request
	// Keys are exact keys deleted without scanning.
	Keys []string
	// Extra are patterns outside any request's kind.
	Extra []Pattern
	// Revoke lists users whose sessions must be revoked before the
	// mutation is reported done.
	Revoke []string
}

// Add appends req. A request for the same kind and id is merged, keeping
// the broader search flag.
func (p *Plan) Add(req Request) {
	for i, existing := range p.Requests {
		if existing.Kind == req.Kind && existing.ID == req.ID {
			p.Requests[i].CascadeSearch = existing.CascadeSearch || req.CascadeSearch
			return
		}
	}
	p.Requests = append(p.Requests, req)
}

// AddKeys appends exact keys, skipping duplicates.
func (p *Plan) AddKeys(keys ...string) {
	for _, k := range keys {
		if k != "" && !slices.Contains(p.Keys, k) {
			p.Keys = append(p.Keys, k)
		}
	}
}

// AddPatterns appends extra patterns, skipping duplicate globs.
func (p *Plan) AddPatterns(patterns ...Pattern) {
	for _, pat := range patterns {
		if !slices.ContainsFunc(p.Extra, func(e Pattern) bool { return e.Glob == pat.Glob }) {
			p.Extra = append(p.Extra, pat)
		}
	}
}

// Merge folds other into p.
func (p *Plan) Merge(other Plan) {
	for _, r := range other.Requests {
		p.Add(r)
	}
	p.AddKeys(other.Keys...)
	p.AddPatterns(other.Extra...)
	for _, u := range other.Revoke {
		if !slices.Contains(p.Revoke, u) {
			p.Revoke = append(p.Revoke, u)
		}
	}
}

// Empty reports whether the plan has nothing to purge or revoke.
func (p Plan) Empty() bool {
	return len(p.Requests) == 0 && len(p.Keys) == 0 && len(p.Extra) == 0 && len(p.Revoke) == 0
}

// Patterns returns every pattern of the plan, de-duplicated, with the kind
// of the first request that produced it. Extra patterns come last.
func (p Plan) Patterns() []Pattern {
	seen := make(map[string]struct{})
	var out []Pattern
	for _, r := range p.Requests {
		for _, glob := range r.Patterns() {
			if _, dup := seen[glob]; dup {
				continue
			}
			seen[glob] = struct{}{}
			out = append(out, Pattern{Glob: glob, Kind: r.Kind})
		}
	}
	for _, pat := range p.Extra {
		if _, dup := seen[pat.Glob]; !dup {
			seen[pat.Glob] = struct{}{}
			out = append(out, pat)
		}
	}
	return out
}

// Pattern is one glob to scan, tagged with the kind that asked for it.
type Pattern struct {
	Glob string
	Kind Kind
}

func dedupe(in []string) []string {
	out := in[:0]
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package invalidation

import (
	"regexp"
	"strings"

	"github.com/tidwall/match"
)

var routeParam = regexp.MustCompile(`:[^/]+|\{[^/}]+\}`)

// Uncovered returns the cached routes whose keys no cascade can purge.
// Routes use echo syntax (/api/artists/:id); parameters are replaced with a
// sample value before matching. A non-empty result means a renamed or new
// route would serve stale data forever, so callers should refuse to start.
func Uncovered(routes []string) []string {
	globs := coverageGlobs()

	var out []string
	for _, route := range routes {
		sample := routeParam.ReplaceAllString(route, "x1")
		covered := false
		for _, g := range globs {
			if match.Match(sample, g) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, route)
		}
	}
	return out
}

// coverageGlobs lists every pattern and exact key the cascade table can emit.
func coverageGlobs() []string {
	var plan Plan
	for _, kind := range Kinds {
		plan.Add(Request{Kind: kind, CascadeSearch: true})
	}

	var globs []string
	for _, p := range plan.Patterns() {
		globs = append(globs, p.Glob)
	}
	for _, ops := range Cascade {
		for _, rule := range ops {
			for _, tmpl := range rule.Keys {
				globs = append(globs, placeholderGlob(tmpl))
			}
			for _, p := range rule.Derived {
				globs = append(globs, p.Glob)
			}
		}
	}
	return globs
}

func placeholderGlob(tmpl string) string {
	for ph := range placeholders {
		tmpl = strings.ReplaceAll(tmpl, ph, "*")
	}
	return tmpl
}

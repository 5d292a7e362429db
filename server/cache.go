package server

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/match"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/server/internal/tracking"
)

const (
	// HeaderXCache reports whether a response was served from the cache.
	HeaderXCache = "X-Cache"

	cacheHit    = "HIT"
	cacheMiss   = "MISS"
	cacheBypass = "BYPASS"

	// maxCachedBody is the largest response body the middleware stores.
	maxCachedBody = 1 << 20
)

// TTLPolicy picks the TTL of a cached response. Rules are glob patterns over
// the request path; the longest matching pattern wins.
type TTLPolicy struct {
	def   time.Duration
	rules []ttlRule
}

type ttlRule struct {
	pattern string
	ttl     time.Duration
}

// NewTTLPolicy returns a policy falling back to def.
func NewTTLPolicy(def time.Duration, rules map[string]time.Duration) *TTLPolicy {
	p := &TTLPolicy{def: def}
	for pattern, ttl := range rules {
		p.rules = append(p.rules, ttlRule{pattern: pattern, ttl: ttl})
	}
	sort.Slice(p.rules, func(i, j int) bool {
		if len(p.rules[i].pattern) != len(p.rules[j].pattern) {
			return len(p.rules[i].pattern) > len(p.rules[j].pattern)
		}
		return p.rules[i].pattern < p.rules[j].pattern
	})
	return p
}

// DefaultTTLPolicy is 600s for everything and 1800s for recommended-artists listings.
func DefaultTTLPolicy(def, recommended time.Duration) *TTLPolicy {
	return NewTTLPolicy(def, map[string]time.Duration{
		"/api/users/*/recommended-artists*": recommended,
	})
}

// TTL returns the TTL for path.
func (p *TTLPolicy) TTL(path string) time.Duration {
	if p == nil {
		return 0
	}
	for _, r := range p.rules {
		if match.Match(path, r.pattern) {
			return r.ttl
		}
	}
	return p.def
}

// CacheMiddleware serves GET and HEAD requests from the response cache and
// stores successful GET responses. The key is the path plus the sorted query
// string. Only 200 responses with a body and without Cache-Control: no-store
// are stored. Entries that are not valid JSON count as misses. Store failures
// never fail the request.
func CacheMiddleware(reader *cache.Reader, policy *TTLPolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}
			if reader == nil || !reader.Enabled() {
				c.Set(tracking.CacheStatusKey, cacheBypass)
				c.Response().Header().Set(HeaderXCache, cacheBypass)
				return next(c)
			}

			ctx := req.Context()
			key := cache.CanonicalKey(req.URL.Path, req.URL.Query())

			body, ok := reader.Get(ctx, key)
			corrupt := ok && !json.Valid(body)
			if ok && !corrupt {
				c.Set(tracking.CacheStatusKey, cacheHit)
				h := c.Response().Header()
				h.Set(HeaderXCache, cacheHit)
				if req.Method == http.MethodHead {
					h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
					h.Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
					return c.NoContent(http.StatusOK)
				}
				return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
			}

			c.Set(tracking.CacheStatusKey, cacheMiss)
			c.Response().Header().Set(HeaderXCache, cacheMiss)
			if req.Method == http.MethodHead {
				if corrupt {
					reader.Forget(ctx, key)
				}
				return next(c)
			}

			res := c.Response()
			capture := &bodyCapture{ResponseWriter: res.Writer}
			res.Writer = capture
			err := next(c)
			res.Writer = capture.ResponseWriter

			// A corrupt entry is overwritten by the fresh body or dropped.
			switch {
			case err == nil && cacheable(res, capture):
				reader.SetRaw(ctx, key, bytes.Clone(capture.buf.Bytes()), policy.TTL(req.URL.Path))
			case corrupt:
				reader.Forget(ctx, key)
			}
			return err
		}
	}
}

func cacheable(res *echo.Response, capture *bodyCapture) bool {
	if res.Status != http.StatusOK || capture.overflow || capture.buf.Len() == 0 {
		return false
	}
	cc := strings.ToLower(res.Header().Get(echo.HeaderCacheControl))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// bodyCapture tees the response body into a bounded buffer.
type bodyCapture struct {
	http.ResponseWriter
	buf      bytes.Buffer
	overflow bool
}

func (w *bodyCapture) Write(p []byte) (int, error) {
	if !w.overflow {
		if w.buf.Len()+len(p) > maxCachedBody {
			w.overflow = true
			w.buf.Reset()
		} else {
			w.buf.Write(p)
		}
	}
	return w.ResponseWriter.Write(p)
}

func (w *bodyCapture) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *bodyCapture) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

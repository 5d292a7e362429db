package logger

import (
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output.
const DefaultMaskValue = "***"

// sensitiveFragments mark field names whose values never reach the log.
// Cache keys are request paths and are logged as-is under cache_key and pattern.
var sensitiveFragments = []string{
	"password", "passwd", "secret",
	"token", "authorization", "credential",
	"session_id", "database_url",
}

// Masker hides values of sensitive fields. A field is sensitive when its
// lowercased name contains one of the configured fragments.
type Masker struct {
	fragments []string
	mask      string
}

// NewMasker returns a Masker. Nil fragments use the built-in list.
func NewMasker(fragments []string) *Masker {
	if fragments == nil {
		fragments = sensitiveFragments
	}
	return &Masker{fragments: fragments, mask: DefaultMaskValue}
}

func (m *Masker) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range m.fragments {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

// String masks value when key is sensitive. URLs keep everything but the password.
func (m *Masker) String(key, value string) string {
	if value == "" || !m.sensitive(key) {
		return value
	}
	if !strings.Contains(value, "://") {
		return m.mask
	}
	u, err := url.Parse(value)
	if err != nil {
		return m.mask
	}
	if _, ok := u.User.Password(); !ok {
		return value
	}
	u.User = url.UserPassword(u.User.Username(), m.mask)
	return u.String()
}

// Value masks any value under a sensitive key and walks one level of maps.
func (m *Masker) Value(key string, value any) any {
	switch v := value.(type) {
	case string:
		return m.String(key, v)
	case map[string]any:
		if m.sensitive(key) {
			return m.mask
		}
		return m.Fields(v)
	default:
		if m.sensitive(key) {
			return m.mask
		}
		return value
	}
}

// Fields returns a masked copy of fields.
func (m *Masker) Fields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = m.Value(k, v)
	}
	return out
}

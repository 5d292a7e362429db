package config

import (
	"fmt"
	"strings"
)

// ConfigError explains a rejected setting and how to fix it.
//
//nolint:revive // config.ConfigError reads better at call sites than config.Error
type ConfigError struct {
	Category string // "missing" or "invalid"
	Field    string // dotted key, e.g. cache.ttl.default
	Message  string
	Action   string
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, 4)
	if e.Category != "" {
		parts = append(parts, "config_"+e.Category+":")
	}
	for _, p := range []string{e.Field, e.Message, e.Action} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// NewMissingFieldError names the env var and YAML key that would supply field.
func NewMissingFieldError(field string) *ConfigError {
	return &ConfigError{
		Category: "missing",
		Field:    field,
		Message:  "required",
		Action:   fmt.Sprintf("set %s env var or add %s to %s", envName(field), field, DefaultFile),
	}
}

func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	e := &ConfigError{Category: "invalid", Field: field, Message: message}
	if len(validOptions) > 0 {
		e.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return e
}

// envName maps cache.ttl.default to CACHE_TTL_DEFAULT.
func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a miss. Callers never treat it as a store failure.
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("cache: connection closed")

	// ErrInvalidTTL rejects negative expirations.
	ErrInvalidTTL = errors.New("cache: invalid TTL")

	// ErrDisabled means the toggle is off or no store is configured. Reads
	// bypass, purges skip.
	ErrDisabled = errors.New("cache: disabled")
)

// ConfigError rejects a store configuration before any dial.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// NewConfigError builds a ConfigError for field.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: err}
}

// Error implements error.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("cache configuration error: %s: %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError is a failed dial or PING against Address. Usually transient.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

// NewConnectionError builds a ConnectionError for op against address.
func NewConnectionError(op, address string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Address: address, Err: err}
}

// Error implements error.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache connection error: %s failed for %s: %v", e.Op, e.Address, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// OperationError is a failed command. Key holds the pattern for scans.
type OperationError struct {
	Op  string
	Key string
	Err error
}

// NewOperationError builds an OperationError for op on key.
func NewOperationError(op, key string, err error) *OperationError {
	return &OperationError{Op: op, Key: key, Err: err}
}

// Error implements error.
func (e *OperationError) Error() string {
	return fmt.Sprintf("cache operation error: %s failed for key %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error { return e.Err }

// Package session keeps the active sessions of each user in one hash of the
// shared key-value store. Each field is a session id; the hash carries a
// sliding TTL refreshed on every successful validation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/logger"
)

// Defaults for Store.
const (
	DefaultTTL            = 24 * time.Hour
	DefaultRevokeAttempts = 3
	DefaultRevokeBackoff  = 50 * time.Millisecond
)

// ErrRevokeFailed is returned when sessions could not be revoked after all retries.
var ErrRevokeFailed = errors.New("session: revocation failed")

// Snapshot is the role and profile captured at login.
type Snapshot struct {
	Role    string
	Profile string
}

// Record is one stored session.
type Record struct {
	ID        string    `cbor:"id"`
	Role      string    `cbor:"role"`
	Profile   string    `cbor:"profile"`
	CreatedAt time.Time `cbor:"created_at"`
}

// Key returns the hash key holding userID's sessions.
func Key(userID string) string {
	return "sessions:" + userID
}

// Store manages per-user session hashes.
type Store struct {
	kv       cache.Store
	log      logger.Logger
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the sliding expiration window.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithRevokeRetry sets how often and how patiently RevokeAll retries.
func WithRevokeRetry(attempts int, initialBackoff time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if initialBackoff > 0 {
			s.backoff = initialBackoff
		}
	}
}

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session Store on top of kv.
func NewStore(kv cache.Store, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		kv:       kv,
		log:      log,
		ttl:      DefaultTTL,
		attempts: DefaultRevokeAttempts,
		backoff:  DefaultRevokeBackoff,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ready(userID string) error {
	if s.kv == nil {
		return cache.ErrDisabled
	}
	if userID == "" {
		return fmt.Errorf("session: empty user id")
	}
	return nil
}

// Create opens a new session for userID and returns its id. The user's
// hash TTL restarts at the full window.
func (s *Store) Create(ctx context.Context, userID string, snap Snapshot) (string, error) {
	if err := s.ready(userID); err != nil {
		return "", err
	}

	rec := Record{
		ID:        s.newID(),
		Role:      snap.Role,
		Profile:   snap.Profile,
		CreatedAt: s.now().UTC(),
	}
	if err := s.put(ctx, userID, rec); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return rec.ID, nil
}

// Validate reports whether sessionID is active for userID. A valid session
// gets a fresh CreatedAt and the hash TTL slides forward. A session removed
// or revoked while it is being validated stays gone and reports false.
func (s *Store) Validate(ctx context.Context, userID, sessionID string) (bool, error) {
	if err := s.ready(userID); err != nil {
		return false, err
	}
	if sessionID == "" {
		return false, nil
	}

	data, err := s.kv.HGet(ctx, Key(userID), sessionID)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}

	rec, err := cache.Unmarshal[Record](data)
	if err != nil {
		// Unreadable entries cannot be trusted.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Dropping corrupt session record")
		if delErr := s.kv.HDel(ctx, Key(userID), sessionID); delErr != nil {
			s.log.Warn().Err(delErr).Str("user_id", userID).Msg("Failed to drop corrupt session record")
		}
		return false, nil
	}

	rec.CreatedAt = s.now().UTC()
	data, err = cache.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("refresh session: %w", err)
	}
	// The field may have been revoked since HGet; a refresh must not restore it.
	refreshed, err := s.kv.HRefresh(ctx, Key(userID), sessionID, data, s.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh session: %w", err)
	}
	return refreshed, nil
}

func (s *Store) put(ctx context.Context, userID string, rec Record) error {
	data, err := cache.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.kv.HSet(ctx, Key(userID), rec.ID, data); err != nil {
		return err
	}
	if _, err := s.kv.Expire(ctx, Key(userID), s.ttl); err != nil {
		return err
	}
	return nil
}

// Remove ends one session, leaving the user's other sessions untouched.
func (s *Store) Remove(ctx context.Context, userID, sessionID string) error {
	if err := s.ready(userID); err != nil {
		return err
	}
	if err := s.kv.HDel(ctx, Key(userID), sessionID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// List returns the ids of userID's active sessions, sorted.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	fields, err := s.kv.HGetAll(ctx, Key(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Records returns userID's decodable sessions sorted by id.
func (s *Store) Records(ctx context.Context, userID string) ([]Record, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	fields, err := s.kv.HGetAll(ctx, Key(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]Record, 0, len(fields))
	for id, data := range fields {
		rec, err := cache.Unmarshal[Record](data)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Skipping corrupt session record")
			continue
		}
		rec.ID = id
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RevokeAll deletes userID's whole session hash, retrying with exponential
// backoff. It returns ErrRevokeFailed wrapping the last error once the
// attempts are exhausted.
func (s *Store) RevokeAll(ctx context.Context, userID string) error {
	if err := s.ready(userID); err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.backoff
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		_, err := s.kv.Delete(ctx, Key(userID))
		if err != nil {
			s.log.Warn().Err(err).
				Str("user_id", userID).
				Int("attempt", attempt).
				Msg("Session revocation attempt failed")
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("%w for user %s after %d attempts: %w", ErrRevokeFailed, userID, attempt, err)
	}
	return nil
}

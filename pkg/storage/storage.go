// Package storage is the durable client store: a small SQLite database
// holding the session token, a rolling error log, the recent search list and
// the Nominatim geocode cache.
//
// Keys are namespaced by environment ("production:auth_token") so switching
// between local/staging/production never leaks a token across backends.
// Entries may carry a TTL; expired rows are dropped lazily on read.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rubiojr/travelmate/pkg/logger"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("storage: key not found")

const defaultMaxErrors = 50

// ErrorEntry is one record of the rolling error log.
type ErrorEntry struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Kind      string    `json:"kind"`
	Status    int       `json:"status,omitempty"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Store is a namespaced key/value store backed by SQLite.
type Store struct {
	db        *sql.DB
	namespace string
	maxErrors int
	now       func() time.Time

	// Guards read-modify-write sequences on the error log.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxErrors caps the rolling error log.
func WithMaxErrors(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path. An empty path opens
// an in-memory database.
func Open(path, namespace string, opts ...Option) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dsn, err)
	}
	// One connection: keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, namespace: namespace, maxErrors: defaultMaxErrors, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS error_log (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			json TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_ns_created ON error_log(namespace, created_at)`,
		`CREATE TABLE IF NOT EXISTS geocode_cache (
			query TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("storage: schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns the key namespace (environment name).
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *Store) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}

// Set stores value under key. ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv(key, value, expires_at) VALUES(?,?,?)`,
		s.key(key), value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	var exp sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, s.key(key)).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: get %s: %w", key, err)
	}
	if exp.Valid && s.now().UnixMilli() >= exp.Int64 {
		if err := s.Delete(ctx, key); err != nil {
			logger.Debug("storage: lazy expiry of %s failed: %v", key, err)
		}
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, s.key(key)); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b), ttl)
}

// GetJSON loads key into v. Returns ErrNotFound when missing.
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return nil
}

// AppendError adds an entry to the rolling error log, trimming the oldest
// entries beyond the configured cap.
func (s *Store) AppendError(ctx context.Context, e ErrorEntry, ttl time.Duration) (ErrorEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("storage: marshal error entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO error_log(id, namespace, json, created_at, expires_at) VALUES(?,?,?,?,?)`,
		e.ID, s.namespace, string(b), e.Time.UnixNano(), s.expiry(ttl)); err != nil {
		return e, fmt.Errorf("storage: append error: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM error_log WHERE namespace = ? AND id NOT IN (
		SELECT id FROM error_log WHERE namespace = ? ORDER BY created_at DESC LIMIT ?)`,
		s.namespace, s.namespace, s.maxErrors)
	if err != nil {
		return e, fmt.Errorf("storage: trim error log: %w", err)
	}
	return e, nil
}

// Errors returns the unexpired error log, newest first.
func (s *Store) Errors(ctx context.Context) ([]ErrorEntry, error) {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM error_log WHERE namespace = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		s.namespace, now); err != nil {
		return nil, fmt.Errorf("storage: expire error log: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT json FROM error_log WHERE namespace = ? ORDER BY created_at DESC`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("storage: list errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e ErrorEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			logger.Error("storage: skipping corrupt error entry: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CachedGeocode returns the cached JSON payload for a geocode query.
// Retention is indefinite; the second return value reports a hit.
func (s *Store) CachedGeocode(ctx context.Context, query string) (string, bool) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT json FROM geocode_cache WHERE query = ?`, query).Scan(&raw); err != nil {
		return "", false
	}
	return raw, true
}

// StoreGeocode caches a successful geocode payload (even an empty one).
func (s *Store) StoreGeocode(ctx context.Context, query, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,CURRENT_TIMESTAMP)`, query, payload)
	return err
}

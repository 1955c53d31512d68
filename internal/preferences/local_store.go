package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	keyPreferences = "preferences"
	keyDeviceID    = "device_id"
)

// SQLiteLocalStore keeps device-local state in a SQLite key/value table.
// It also remembers the local device id.
type SQLiteLocalStore struct {
	db *sql.DB
}

// OpenSQLiteLocalStore opens (or creates) the database at path.
func OpenSQLiteLocalStore(ctx context.Context, path string) (*SQLiteLocalStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS local_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local_kv table: %w", err)
	}
	return &SQLiteLocalStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteLocalStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteLocalStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteLocalStore) put(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO local_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// LoadPreferences returns the saved preferences, or nil.
func (s *SQLiteLocalStore) LoadPreferences(ctx context.Context) (*PreferenceSet, error) {
	raw, ok, err := s.get(ctx, keyPreferences)
	if err != nil || !ok {
		return nil, err
	}
	var p PreferenceSet
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences replaces the saved preferences.
func (s *SQLiteLocalStore) SavePreferences(ctx context.Context, p *PreferenceSet) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return s.put(ctx, keyPreferences, string(raw))
}

// LoadDeviceID returns the remembered device id, or "".
func (s *SQLiteLocalStore) LoadDeviceID(ctx context.Context) (string, error) {
	id, _, err := s.get(ctx, keyDeviceID)
	return id, err
}

// SaveDeviceID remembers the local device id.
func (s *SQLiteLocalStore) SaveDeviceID(ctx context.Context, id string) error {
	return s.put(ctx, keyDeviceID, id)
}

// MemoryLocalStore is an in-memory LocalStore for tests.
type MemoryLocalStore struct {
	mu       sync.Mutex
	prefs    *PreferenceSet
	deviceID string
}

// NewMemoryLocalStore creates an empty store.
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{}
}

// LoadPreferences returns the saved preferences, or nil.
func (s *MemoryLocalStore) LoadPreferences(context.Context) (*PreferenceSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		return nil, nil
	}
	return s.prefs.Clone(), nil
}

// SavePreferences replaces the saved preferences.
func (s *MemoryLocalStore) SavePreferences(_ context.Context, p *PreferenceSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p.Clone()
	return nil
}

// LoadDeviceID returns the remembered device id.
func (s *MemoryLocalStore) LoadDeviceID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID, nil
}

// SaveDeviceID remembers the local device id.
func (s *MemoryLocalStore) SaveDeviceID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = id
	return nil
}

var (
	_ LocalStore = (*SQLiteLocalStore)(nil)
	_ LocalStore = (*MemoryLocalStore)(nil)
)

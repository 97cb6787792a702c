package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLite is an embedded key/value database holding one JSON value per key.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SQLiteKey stores a value under one key of a SQLite database.
type SQLiteKey[T any] struct {
	db  *SQLite
	key string
}

// NewSQLiteKey returns a store for key.
func NewSQLiteKey[T any](db *SQLite, key string) *SQLiteKey[T] {
	return &SQLiteKey[T]{db: db, key: key}
}

// Load reads the value for the key. Missing or malformed rows load as absent.
func (k *SQLiteKey[T]) Load() (T, bool) {
	var v T
	var raw string
	err := k.db.db.QueryRow("SELECT value FROM kv WHERE key = ?", k.key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			L_warn("store: sqlite read failed, starting empty", "key", k.key, "error", err)
		}
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		L_warn("store: malformed sqlite value, starting empty", "key", k.key, "error", err)
		var zero T
		return zero, false
	}
	return v, true
}

// Save upserts the value for the key.
func (k *SQLiteKey[T]) Save(v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", k.key, err)
	}
	_, err = k.db.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		k.key, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", k.key, err)
	}
	return nil
}

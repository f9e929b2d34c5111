// Package recordstore provides the SQLite-backed realtime record store: rating and
// confession records keyed by collection and id, plus a scoped key-value table used
// to persist per-device vote guards on the server.
package recordstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	collection       TEXT    NOT NULL,
	id               TEXT    NOT NULL,
	subject_name     TEXT    NOT NULL DEFAULT '',
	subject_category TEXT    NOT NULL DEFAULT '',
	score            INTEGER,
	text             TEXT    NOT NULL DEFAULT '',
	created_at_ms    INTEGER NOT NULL,
	vote_count       INTEGER NOT NULL DEFAULT 0 CHECK (vote_count >= 0),
	approved         INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_created ON records(collection, created_at_ms DESC);

CREATE TABLE IF NOT EXISTS kv (
	scope      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (scope, key)
);
`

// ChangeFunc is called after a collection was mutated.
type ChangeFunc func(collection string)

// DB wraps a sql.DB with record-store operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time

	mu        sync.RWMutex
	listeners []ChangeFunc
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("recordstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recordstore: apply schema: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// OnChange registers fn to be called after every committed mutation.
func (db *DB) OnChange(fn ChangeFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = append(db.listeners, fn)
}

func (db *DB) notify(collection string) {
	db.mu.RLock()
	fns := make([]ChangeFunc, len(db.listeners))
	copy(fns, db.listeners)
	db.mu.RUnlock()

	for _, fn := range fns {
		fn(collection)
	}
}

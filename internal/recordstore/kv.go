package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/duetology/internal/guard"
)

// KV is a JSON key-value namespace inside the kv table. The server keeps one
// per device so that vote guards survive restarts.
//
// Like a transaction, a KV is bound to the context of the request using it.
type KV struct {
	db      *DB
	ctx     context.Context
	scope   string
	timeout time.Duration
}

var _ guard.KeyValue = (*KV)(nil)

// KV returns the key-value namespace for scope. Every query runs under ctx,
// further bounded by timeout when it is positive.
func (db *DB) KV(ctx context.Context, scope string, timeout time.Duration) *KV {
	return &KV{db: db, ctx: ctx, scope: scope, timeout: timeout}
}

func (kv *KV) context() (context.Context, context.CancelFunc) {
	if kv.timeout > 0 {
		return context.WithTimeout(kv.ctx, kv.timeout)
	}
	return context.WithCancel(kv.ctx)
}

// Read decodes the value under key into v. It reports false when the key is absent.
func (kv *KV) Read(key string, v any) (bool, error) {
	ctx, cancel := kv.context()
	defer cancel()

	var raw string
	err := kv.db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE scope = ? AND key = ?`, kv.scope, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recordstore: kv read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("recordstore: kv decode %s: %w", key, err)
	}
	return true, nil
}

// Write stores v under key as JSON.
func (kv *KV) Write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("recordstore: kv encode %s: %w", key, err)
	}
	ctx, cancel := kv.context()
	defer cancel()

	_, err = kv.db.conn.ExecContext(ctx, `
		INSERT INTO kv (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, kv.scope, key, string(data), kv.db.now().UTC())
	if err != nil {
		return fmt.Errorf("recordstore: kv write %s: %w", key, err)
	}
	return nil
}

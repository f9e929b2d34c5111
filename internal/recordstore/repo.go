package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/models"
)

const recordColumns = `id, subject_name, subject_category, score, text, created_at_ms, vote_count, approved`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (models.Record, error) {
	var (
		r     models.Record
		score sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.SubjectName, &r.SubjectCategory, &score, &r.Text, &r.CreatedAtMillis, &r.VoteCount, &r.Approved); err != nil {
		return models.Record{}, err
	}
	if score.Valid {
		r.Score = models.Score(int(score.Int64))
	}
	return r, nil
}

func nullScore(r models.Record) sql.NullInt64 {
	if r.Score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*r.Score), Valid: true}
}

func checkCollection(collection string) error {
	if !models.IsCollection(collection) {
		return fmt.Errorf("recordstore: collection %q: %w", collection, apperr.ErrNotFound)
	}
	return nil
}

// Create validates rec, assigns its identity and creation time, and stores it.
// Caller-provided id, timestamps and vote counts are ignored.
func (db *DB) Create(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	if err := checkCollection(collection); err != nil {
		return models.Record{}, err
	}
	rec.Normalize(collection)
	if err := rec.ValidateFor(collection); err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.Record{}, fmt.Errorf("recordstore: new id: %w", err)
	}
	rec.ID = id.String()
	rec.CreatedAtMillis = db.now().UnixMilli()
	rec.VoteCount = 0
	rec.Approved = true

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO records (collection, id, subject_name, subject_category, score, text, created_at_ms, vote_count, approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, collection, rec.ID, rec.SubjectName, rec.SubjectCategory, nullScore(rec), rec.Text, rec.CreatedAtMillis, rec.VoteCount, rec.Approved)
	if err != nil {
		return models.Record{}, fmt.Errorf("recordstore: insert: %w", err)
	}

	db.notify(collection)
	return rec, nil
}

// Import stores records as-is inside one transaction, keeping their ids.
// Records whose id already exists are skipped. It returns the number inserted.
func (db *DB) Import(ctx context.Context, collection string, recs []models.Record) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("recordstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records (collection, id, subject_name, subject_category, score, text, created_at_ms, vote_count, approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("recordstore: prepare import: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range recs {
		rec.Normalize(collection)
		if err := rec.ValidateFor(collection); err != nil {
			return 0, fmt.Errorf("%w: record %q: %w", apperr.ErrInvalid, rec.ID, err)
		}
		if rec.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return 0, fmt.Errorf("recordstore: new id: %w", err)
			}
			rec.ID = id.String()
		}
		if rec.CreatedAtMillis == 0 {
			rec.CreatedAtMillis = db.now().UnixMilli()
		}
		res, err := stmt.ExecContext(ctx, collection, rec.ID, rec.SubjectName, rec.SubjectCategory, nullScore(rec), rec.Text, rec.CreatedAtMillis, rec.VoteCount, true)
		if err != nil {
			return 0, fmt.Errorf("recordstore: import %q: %w", rec.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("recordstore: commit import: %w", err)
	}
	if inserted > 0 {
		db.notify(collection)
	}
	return inserted, nil
}

// Get returns one record.
func (db *DB) Get(ctx context.Context, collection, id string) (models.Record, error) {
	if err := checkCollection(collection); err != nil {
		return models.Record{}, err
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE collection = ? AND id = ?`, collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("recordstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("recordstore: get: %w", err)
	}
	return rec, nil
}

// List returns the full snapshot of a collection, newest first.
func (db *DB) List(ctx context.Context, collection string) ([]models.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE collection = ?
		ORDER BY created_at_ms DESC, id DESC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("recordstore: list: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("recordstore: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Patch applies a partial write. The vote counter may only stay equal or grow;
// a lower value fails with apperr.ErrConflict.
func (db *DB) Patch(ctx context.Context, collection, id string, p models.Patch) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE records SET vote_count = ?
		WHERE collection = ? AND id = ? AND vote_count <= ?
	`, *p.VoteCount, collection, id, *p.VoteCount)
	if err != nil {
		return fmt.Errorf("recordstore: patch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.Get(ctx, collection, id); err != nil {
			return err
		}
		return fmt.Errorf("recordstore: %s/%s: vote count may not decrease: %w", collection, id, apperr.ErrConflict)
	}

	db.notify(collection)
	return nil
}

// IncrementVote atomically adds one vote and returns the new count.
func (db *DB) IncrementVote(ctx context.Context, collection, id string) (int64, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	var n int64
	err := db.conn.QueryRowContext(ctx, `
		UPDATE records SET vote_count = vote_count + 1
		WHERE collection = ? AND id = ?
		RETURNING vote_count
	`, collection, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("recordstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("recordstore: increment: %w", err)
	}

	db.notify(collection)
	return n, nil
}

// Package testutil provides shared test helpers for record stores and services.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/duetology/internal/metrics"
	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/recordstore"
	"github.com/starford/duetology/internal/service"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *recordstore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "duetology-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := recordstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestService creates a service over a fresh database with its own metrics registry.
func TestService(t *testing.T, opts ...service.Option) (*service.Service, *recordstore.DB) {
	t.Helper()
	db := TestDB(t)
	opts = append([]service.Option{service.WithMetrics(metrics.NewManager())}, opts...)
	svc := service.New(db, opts...)
	t.Cleanup(svc.Close)
	return svc, db
}

// Rating builds a valid rating record.
func Rating(name, department string, stars int) models.Record {
	return models.Record{
		SubjectName:     name,
		SubjectCategory: department,
		Score:           models.Score(stars),
		Text:            "Clear lectures and fair grading all semester.",
	}
}

// Confession builds a valid confession record.
func Confession(category, text string) models.Record {
	return models.Record{SubjectCategory: category, Text: text}
}

// MustCreate stores rec and fails the test on error.
func MustCreate(t *testing.T, db *recordstore.DB, collection string, rec models.Record) models.Record {
	t.Helper()
	out, err := db.Create(context.Background(), collection, rec)
	if err != nil {
		t.Fatalf("create %s: %v", collection, err)
	}
	return out
}

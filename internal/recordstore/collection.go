package recordstore

import (
	"context"

	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/models"
)

// Collection binds the store to one named collection.
type Collection struct {
	db   *DB
	name string
}

var (
	_ guard.RecordStore = (*Collection)(nil)
	_ guard.Incrementer = (*Collection)(nil)
)

// Collection returns a view of the named collection.
func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

func (c *Collection) Get(ctx context.Context, id string) (models.Record, error) {
	return c.db.Get(ctx, c.name, id)
}

func (c *Collection) Write(ctx context.Context, id string, p models.Patch) error {
	return c.db.Patch(ctx, c.name, id, p)
}

func (c *Collection) IncrementVote(ctx context.Context, id string) (int64, error) {
	return c.db.IncrementVote(ctx, c.name, id)
}

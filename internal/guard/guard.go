package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/models"
)

// DefaultTimeout bounds each store round trip of a vote.
const DefaultTimeout = 3 * time.Second

var (
	// ErrAlreadyVoted is returned when the local client already voted on the record.
	ErrAlreadyVoted = errors.New("guard: already voted")
	// ErrNotFound is returned when the record no longer exists in the store.
	ErrNotFound = errors.New("guard: record not found")
	// ErrStore wraps any read or write failure of the record store.
	ErrStore = errors.New("guard: store error")
)

// RecordStore is the slice of the realtime store a vote needs.
type RecordStore interface {
	// Get returns the current record or an error wrapping apperr.ErrNotFound.
	Get(ctx context.Context, id string) (models.Record, error)
	// Write applies a partial update to the record.
	Write(ctx context.Context, id string, patch models.Patch) error
}

// Incrementer is implemented by stores that can bump a vote counter atomically.
// When available it replaces the blind write of the read-modify-write cycle, so
// concurrent voters on different clients cannot lose increments.
type Incrementer interface {
	IncrementVote(ctx context.Context, id string) (int64, error)
}

// Guard performs guarded vote increments against a record store.
type Guard struct {
	store   RecordStore
	timeout time.Duration
}

// New creates a Guard over store.
func New(store RecordStore, opts ...Option) *Guard {
	g := &Guard{store: store, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryIncrementVote bumps the vote counter of id once for the client owning set.
//
// The guard check happens before any store access and the returned set only
// includes id when the store write succeeded. On any error the caller's set is
// returned unchanged, so the vote can be retried.
func (g *Guard) TryIncrementVote(ctx context.Context, set Set, id string) (int64, Set, error) {
	if HasVoted(set, id) {
		return 0, set, ErrAlreadyVoted
	}

	rec, err := g.get(ctx, id)
	if err != nil {
		return 0, set, err
	}

	next := rec.VoteCount + 1
	if inc, ok := g.store.(Incrementer); ok {
		next, err = g.increment(ctx, inc, id)
	} else {
		err = g.write(ctx, id, next)
	}
	if err != nil {
		return 0, set, err
	}

	return next, RecordVote(set, id), nil
}

func (g *Guard) get(ctx context.Context, id string) (models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rec, err := g.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Record{}, ErrNotFound
		}
		return models.Record{}, fmt.Errorf("%w: read %s: %w", ErrStore, id, err)
	}
	return rec, nil
}

func (g *Guard) write(ctx context.Context, id string, count int64) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Write(ctx, id, models.Patch{VoteCount: &count}); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: write %s: %w", ErrStore, id, err)
	}
	return nil
}

func (g *Guard) increment(ctx context.Context, inc Incrementer, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	n, err := inc.IncrementVote(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%w: increment %s: %w", ErrStore, id, err)
	}
	return n, nil
}

package guard

import (
	"context"
	"fmt"

	"github.com/starford/duetology/internal/models"
)

// Fixed local storage keys, one per feature.
const (
	KeyHelpfulRatings   = "duetology_helpful_ratings"
	KeyLikedConfessions = "duetology_liked_confessions"
)

// KeyFor returns the local storage key guarding votes in collection.
func KeyFor(collection string) (string, error) {
	switch collection {
	case models.CollectionRatings:
		return KeyHelpfulRatings, nil
	case models.CollectionConfessions:
		return KeyLikedConfessions, nil
	}
	return "", fmt.Errorf("guard: no key for collection %q", collection)
}

// KeyValue is a local persistent key-value store holding JSON values.
type KeyValue interface {
	// Read decodes the value stored under key into v and reports whether it existed.
	Read(key string, v any) (bool, error)
	// Write stores v under key.
	Write(key string, v any) error
}

// Tracker persists a Set under a fixed key.
type Tracker struct {
	kv  KeyValue
	key string
}

// NewTracker creates a Tracker storing its set in kv under key.
func NewTracker(kv KeyValue, key string) *Tracker {
	return &Tracker{kv: kv, key: key}
}

// Key returns the storage key of the tracker.
func (t *Tracker) Key() string {
	return t.key
}

// Load returns the persisted set, or an empty set on first use.
func (t *Tracker) Load() (Set, error) {
	var s Set
	ok, err := t.kv.Read(t.key, &s)
	if err != nil {
		return Set{}, fmt.Errorf("guard: load %s: %w", t.key, err)
	}
	if !ok {
		return NewSet(), nil
	}
	return s, nil
}

// Save persists s.
func (t *Tracker) Save(s Set) error {
	if err := t.kv.Write(t.key, s); err != nil {
		return fmt.Errorf("guard: save %s: %w", t.key, err)
	}
	return nil
}

// Vote loads the persisted set, performs a guarded increment of id and saves the
// grown set. A failure to save after a successful increment is returned together
// with the new count: the vote itself has been counted.
func (t *Tracker) Vote(ctx context.Context, g *Guard, id string) (int64, Set, error) {
	set, err := t.Load()
	if err != nil {
		return 0, Set{}, err
	}
	n, next, err := g.TryIncrementVote(ctx, set, id)
	if err != nil {
		return 0, set, err
	}
	if err := t.Save(next); err != nil {
		return n, next, err
	}
	return n, next, nil
}

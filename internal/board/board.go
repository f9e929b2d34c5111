// Package board holds the client-side view of one collection: the latest
// snapshot pushed by the server, the active list filters and the local vote
// guard. It is what the CLI renders for the ratings and confessions feeds.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/models"
)

// Item is a record as shown in a feed.
type Item struct {
	models.Record
	// Voted is true when this client already voted on the record.
	Voted bool `json:"voted"`
	// Age is the relative creation time, e.g. "5m ago".
	Age string `json:"age"`
}

// Board is the view state of a single collection. It is safe for concurrent use.
type Board struct {
	collection string
	guard      *guard.Guard
	guardOpts  []guard.Option
	tracker    *guard.Tracker
	now        func() time.Time

	// voteMu serializes votes so a double click cannot pass the guard twice.
	voteMu sync.Mutex

	mu       sync.Mutex
	records  []models.Record
	checksum string
	criteria aggregate.Criteria
	voted    guard.Set
}

// Option configures a Board.
type Option func(*Board)

// WithClock replaces time.Now for relative ages.
func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// WithGuardTimeout bounds each store round trip of a vote.
func WithGuardTimeout(d time.Duration) Option {
	return func(b *Board) {
		b.guardOpts = append(b.guardOpts, guard.WithTimeout(d))
	}
}

// New creates the board for collection. Votes go to store; the guard set is
// kept in kv under the collection's fixed key and loaded immediately.
func New(collection string, store guard.RecordStore, kv guard.KeyValue, opts ...Option) (*Board, error) {
	key, err := guard.KeyFor(collection)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b := &Board{
		collection: collection,
		tracker:    guard.NewTracker(kv, key),
		now:        time.Now,
		records:    []models.Record{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.guard = guard.New(store, b.guardOpts...)
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Collection returns the collection name.
func (b *Board) Collection() string {
	return b.collection
}

// GuardKey returns the local storage key of the vote guard.
func (b *Board) GuardKey() string {
	return b.tracker.Key()
}

// Apply replaces the records with snap. It reports whether anything changed;
// snapshots of other collections are ignored.
func (b *Board) Apply(snap models.Snapshot) bool {
	if snap.Collection != b.collection {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if snap.Checksum != "" && snap.Checksum == b.checksum {
		return false
	}
	b.records = aggregate.SortNewestFirst(snap.Records)
	b.checksum = snap.Checksum
	return true
}

// Reload re-reads the guard set, e.g. after another process voted.
func (b *Board) Reload() error {
	set, err := b.tracker.Load()
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	b.mu.Lock()
	b.voted = set
	b.mu.Unlock()
	return nil
}

// SetCriteria replaces the active filters.
func (b *Board) SetCriteria(c aggregate.Criteria) {
	b.mu.Lock()
	b.criteria = c
	b.mu.Unlock()
}

// Len returns the number of records in the current snapshot, before filtering.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Visible returns the records passing the active filters, newest first.
func (b *Board) Visible() []models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible()
}

func (b *Board) visible() []models.Record {
	matched := aggregate.Filter(b.records, b.criteria)
	out := make([]models.Record, len(matched))
	copy(out, matched)
	return out
}

// Summaries groups the visible records per subject.
func (b *Board) Summaries() []aggregate.Summary {
	return aggregate.Summarize(b.Visible())
}

// Items returns the visible records decorated for display.
func (b *Board) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	recs := b.visible()
	out := make([]Item, len(recs))
	for i, r := range recs {
		out[i] = Item{
			Record: r,
			Voted:  guard.HasVoted(b.voted, r.ID),
			Age:    RelativeAge(now, time.UnixMilli(r.CreatedAtMillis)),
		}
	}
	return out
}

// CanVote reports whether this client has not voted on id yet.
func (b *Board) CanVote(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !guard.HasVoted(b.voted, id)
}

// Voted returns the ids this client voted on, in vote order.
func (b *Board) Voted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voted.IDs()
}

// Vote casts this client's vote on id and returns the new count.
//
// When the vote was counted but the guard set could not be persisted, the
// count is returned together with the error and the in-memory state still
// reflects the vote.
func (b *Board) Vote(ctx context.Context, id string) (int64, error) {
	b.voteMu.Lock()
	defer b.voteMu.Unlock()

	if !b.CanVote(id) {
		return 0, guard.ErrAlreadyVoted
	}
	n, set, err := b.tracker.Vote(ctx, b.guard, id)
	if n == 0 {
		if errors.Is(err, guard.ErrAlreadyVoted) {
			// voted from another process since the last reload
			_ = b.Reload()
		}
		return 0, err
	}

	b.mu.Lock()
	b.voted = set
	for i := range b.records {
		if b.records[i].ID == id && b.records[i].VoteCount < n {
			b.records[i].VoteCount = n
		}
	}
	b.mu.Unlock()
	return n, err
}

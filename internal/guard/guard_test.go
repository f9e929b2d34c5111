package guard_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/models"
)

// memStore is a read-modify-write record store.
type memStore struct {
	mu       sync.Mutex
	records  map[string]models.Record
	writeErr error
	readErr  error
	reads    int
	writes   int
}

func newMemStore(recs ...models.Record) *memStore {
	s := &memStore{records: make(map[string]models.Record)}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return models.Record{}, s.readErr
	}
	r, ok := s.records[id]
	if !ok {
		return models.Record{}, fmt.Errorf("get %s: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

func (s *memStore) Write(_ context.Context, id string, p models.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	r, ok := s.records[id]
	if !ok {
		return apperr.ErrNotFound
	}
	r.VoteCount = *p.VoteCount
	s.records[id] = r
	return nil
}

func (s *memStore) count(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].VoteCount
}

// atomicStore additionally supports server-side increments.
type atomicStore struct {
	*memStore
	increments int
}

func (s *atomicStore) IncrementVote(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments++
	r, ok := s.records[id]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	r.VoteCount++
	s.records[id] = r
	return r.VoteCount, nil
}

// slowStore blocks reads until the context is done.
type slowStore struct{ memStore }

func (s *slowStore) Get(ctx context.Context, _ string) (models.Record, error) {
	<-ctx.Done()
	return models.Record{}, ctx.Err()
}

func TestSet(t *testing.T) {
	Convey("Given an empty guard set", t, func() {
		s := guard.NewSet()

		Convey("Then nothing has been voted on", func() {
			So(guard.HasVoted(s, "r1"), ShouldBeFalse)
			So(s.Len(), ShouldEqual, 0)
		})

		Convey("When a vote is recorded", func() {
			next := guard.RecordVote(s, "r1")

			Convey("Then the new set contains the id", func() {
				So(guard.HasVoted(next, "r1"), ShouldBeTrue)
			})

			Convey("Then the original set is unchanged", func() {
				So(guard.HasVoted(s, "r1"), ShouldBeFalse)
			})

			Convey("Then recording it again is a no-op", func() {
				again := guard.RecordVote(next, "r1")
				So(again.Equal(next), ShouldBeTrue)
				So(again.IDs(), ShouldResemble, []string{"r1"})
			})
		})

		Convey("When built from ids with duplicates", func() {
			s := guard.NewSet("a", "b", "a", "c", "b")
			So(s.IDs(), ShouldResemble, []string{"a", "b", "c"})
		})
	})

	Convey("Recording any id makes it voted and keeps earlier votes", t, func() {
		ids := []string{"", "r1", " ", "-OaB3x_9", "élève", "r1"}
		s := guard.NewSet()
		for _, id := range ids {
			next := guard.RecordVote(s, id)
			So(guard.HasVoted(next, id), ShouldBeTrue)
			for _, prev := range s.IDs() {
				So(guard.HasVoted(next, prev), ShouldBeTrue)
			}
			So(guard.RecordVote(next, id).Equal(next), ShouldBeTrue)
			s = next
		}
		So(s.Len(), ShouldEqual, 5)
	})

	Convey("Given a set serialized to JSON", t, func() {
		s := guard.NewSet("r1", "r2")
		data, err := json.Marshal(s)
		So(err, ShouldBeNil)

		Convey("Then it is an array of identifiers", func() {
			So(string(data), ShouldEqual, `["r1","r2"]`)
		})

		Convey("Then an empty set encodes as an empty array", func() {
			data, err := json.Marshal(guard.Set{})
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `[]`)
		})

		Convey("Then decoding restores membership", func() {
			var back guard.Set
			So(json.Unmarshal(data, &back), ShouldBeNil)
			So(back.Equal(s), ShouldBeTrue)
			So(guard.HasVoted(back, "r2"), ShouldBeTrue)
		})
	})
}

func TestTryIncrementVote(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store holding r1 with 3 votes and an empty guard set", t, func() {
		store := newMemStore(models.Record{ID: "r1", VoteCount: 3})
		g := guard.New(store)
		set := guard.NewSet()

		Convey("When the client votes", func() {
			n, next, err := g.TryIncrementVote(ctx, set, "r1")

			Convey("Then the count becomes 4 and the set holds r1", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
				So(next.IDs(), ShouldResemble, []string{"r1"})
				So(store.count("r1"), ShouldEqual, 4)
			})

			Convey("And votes again with the returned set", func() {
				reads := store.reads
				_, again, err := g.TryIncrementVote(ctx, next, "r1")

				Convey("Then it fails AlreadyVoted without touching the store", func() {
					So(errors.Is(err, guard.ErrAlreadyVoted), ShouldBeTrue)
					So(store.count("r1"), ShouldEqual, 4)
					So(store.reads, ShouldEqual, reads)
					So(again.Equal(next), ShouldBeTrue)
				})
			})
		})

		Convey("When the record does not exist", func() {
			_, next, err := g.TryIncrementVote(ctx, set, "missing")

			Convey("Then it fails NotFound and the set is unchanged", func() {
				So(errors.Is(err, guard.ErrNotFound), ShouldBeTrue)
				So(next.Len(), ShouldEqual, 0)
				So(store.writes, ShouldEqual, 0)
			})
		})

		Convey("When the write fails", func() {
			store.writeErr = errors.New("network down")
			_, next, err := g.TryIncrementVote(ctx, set, "r1")

			Convey("Then it fails with a store error and the set stays retryable", func() {
				So(errors.Is(err, guard.ErrStore), ShouldBeTrue)
				So(guard.HasVoted(next, "r1"), ShouldBeFalse)
				So(store.count("r1"), ShouldEqual, 3)
			})

			Convey("Then a retry succeeds once the store recovers", func() {
				store.writeErr = nil
				n, next, err := g.TryIncrementVote(ctx, next, "r1")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
				So(guard.HasVoted(next, "r1"), ShouldBeTrue)
			})
		})

		Convey("When the read fails", func() {
			store.readErr = errors.New("timeout")
			_, _, err := g.TryIncrementVote(ctx, set, "r1")

			Convey("Then it is a store error and nothing is written", func() {
				So(errors.Is(err, guard.ErrStore), ShouldBeTrue)
				So(store.writes, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a store supporting atomic increments", t, func() {
		store := &atomicStore{memStore: newMemStore(models.Record{ID: "r1", VoteCount: 7})}
		g := guard.New(store)

		Convey("When the client votes", func() {
			n, next, err := g.TryIncrementVote(ctx, guard.NewSet(), "r1")

			Convey("Then the increment is done by the store", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 8)
				So(store.increments, ShouldEqual, 1)
				So(store.writes, ShouldEqual, 0)
				So(guard.HasVoted(next, "r1"), ShouldBeTrue)
			})
		})

		Convey("When two clients vote concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, _ = g.TryIncrementVote(ctx, guard.NewSet(), "r1")
				}()
			}
			wg.Wait()

			Convey("Then no increment is lost", func() {
				So(store.count("r1"), ShouldEqual, 9)
			})
		})
	})

	Convey("Given a store that never answers", t, func() {
		g := guard.New(&slowStore{}, guard.WithTimeout(20*time.Millisecond))

		Convey("Then the vote times out as a store error", func() {
			_, _, err := g.TryIncrementVote(ctx, guard.NewSet(), "r1")
			So(errors.Is(err, guard.ErrStore), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})
}

// memKV is an in-memory KeyValue.
type memKV struct {
	data     map[string][]byte
	writeErr error
}

func (m *memKV) Read(key string, v any) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memKV) Write(key string, v any) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func TestTracker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a tracker over an empty local store", t, func() {
		kv := &memKV{data: map[string][]byte{}}
		tr := guard.NewTracker(kv, guard.KeyHelpfulRatings)
		store := newMemStore(models.Record{ID: "r1", VoteCount: 0}, models.Record{ID: "r2"})
		g := guard.New(store)

		Convey("Then the first load is empty", func() {
			s, err := tr.Load()
			So(err, ShouldBeNil)
			So(s.Len(), ShouldEqual, 0)
		})

		Convey("When voting twice on r1 and once on r2", func() {
			n, _, err := tr.Vote(ctx, g, "r1")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			_, _, err = tr.Vote(ctx, g, "r1")
			So(errors.Is(err, guard.ErrAlreadyVoted), ShouldBeTrue)

			_, _, err = tr.Vote(ctx, g, "r2")
			So(err, ShouldBeNil)

			Convey("Then the set is persisted as a JSON array under the feature key", func() {
				So(string(kv.data[guard.KeyHelpfulRatings]), ShouldEqual, `["r1","r2"]`)
				So(store.count("r1"), ShouldEqual, 1)
			})
		})

		Convey("When the store write fails", func() {
			store.writeErr = errors.New("boom")
			_, _, err := tr.Vote(ctx, g, "r1")

			Convey("Then nothing is persisted", func() {
				So(errors.Is(err, guard.ErrStore), ShouldBeTrue)
				_, ok := kv.data[guard.KeyHelpfulRatings]
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When persisting the set fails after the vote", func() {
			kv.writeErr = errors.New("disk full")
			n, next, err := tr.Vote(ctx, g, "r1")

			Convey("Then the vote is still reported with the error", func() {
				So(err, ShouldNotBeNil)
				So(n, ShouldEqual, 1)
				So(guard.HasVoted(next, "r1"), ShouldBeTrue)
			})
		})
	})

	Convey("Feature keys are fixed per collection", t, func() {
		k, err := guard.KeyFor(models.CollectionRatings)
		So(err, ShouldBeNil)
		So(k, ShouldEqual, "duetology_helpful_ratings")
		k, err = guard.KeyFor(models.CollectionConfessions)
		So(err, ShouldBeNil)
		So(k, ShouldEqual, "duetology_liked_confessions")
		_, err = guard.KeyFor("analytics")
		So(err, ShouldNotBeNil)
	})
}

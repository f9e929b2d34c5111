package recordstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "duetology-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newRating(name, dept string, stars int) models.Record {
	return models.Record{
		SubjectName:     name,
		SubjectCategory: dept,
		Score:           models.Score(stars),
		Text:            "Explains every topic clearly and patiently.",
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records`).Scan(&count); err != nil {
		t.Fatalf("records table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM kv`).Scan(&count); err != nil {
		t.Fatalf("kv table missing: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	db.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	in := newRating("  Dr. Lee ", "Mathematics", 4)
	in.ID = "caller-id"
	in.VoteCount = 99
	rec, err := db.Create(ctx, models.CollectionRatings, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" || rec.ID == "caller-id" {
		t.Errorf("id = %q, want a generated id", rec.ID)
	}
	if rec.VoteCount != 0 {
		t.Errorf("voteCount = %d, want 0", rec.VoteCount)
	}
	if rec.CreatedAtMillis != 1_700_000_000_000 {
		t.Errorf("createdAt = %d", rec.CreatedAtMillis)
	}
	if rec.SubjectName != "Dr. Lee" {
		t.Errorf("subjectName = %q, want trimmed", rec.SubjectName)
	}

	got, err := db.Get(ctx, models.CollectionRatings, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ScoreValue() != 4 || !got.Approved {
		t.Errorf("got %+v", got)
	}

	if _, err := db.Get(ctx, models.CollectionConfessions, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-collection get err = %v, want ErrNotFound", err)
	}
}

func TestCreateValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		collection string
		rec        models.Record
	}{
		{"score out of range", models.CollectionRatings, newRating("A", "Math", 6)},
		{"missing score", models.CollectionRatings, models.Record{SubjectName: "A", SubjectCategory: "Math", Text: "long enough review text here"}},
		{"short review", models.CollectionRatings, models.Record{SubjectName: "A", SubjectCategory: "Math", Score: models.Score(3), Text: "short"}},
		{"unknown confession category", models.CollectionConfessions, models.Record{SubjectCategory: "gossip", Text: "I never told anyone this."}},
		{"short confession", models.CollectionConfessions, models.Record{Text: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.Create(ctx, tc.collection, tc.rec)
			if !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}

	if _, err := db.Create(ctx, "analytics", newRating("A", "Math", 3)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown collection err = %v, want ErrNotFound", err)
	}
}

func TestConfessionDefaults(t *testing.T) {
	db := testDB(t)
	rec, err := db.Create(context.Background(), models.CollectionConfessions, models.Record{
		SubjectName: "should be dropped",
		Score:       models.Score(5),
		Text:        "I still sleep with a night light.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.SubjectName != "" || rec.Score != nil {
		t.Errorf("confession kept rating fields: %+v", rec)
	}
	if rec.SubjectCategory != models.DefaultConfessionCategory {
		t.Errorf("category = %q, want %q", rec.SubjectCategory, models.DefaultConfessionCategory)
	}
}

func TestListNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := int64(1000)
	db.now = func() time.Time { clock += 10; return time.UnixMilli(clock) }

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		rec, err := db.Create(ctx, models.CollectionRatings, newRating(name, "Math", 3))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID)
	}

	got, err := db.List(ctx, models.CollectionRatings)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != ids[2] || got[2].ID != ids[0] {
		t.Errorf("order = %v, want newest first", []string{got[0].ID, got[1].ID, got[2].ID})
	}

	empty, err := db.List(ctx, models.CollectionConfessions)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %v, %v; want non-nil empty slice", empty, err)
	}
}

func TestPatchMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec, _ := db.Create(ctx, models.CollectionRatings, newRating("A", "Math", 3))

	five := int64(5)
	if err := db.Patch(ctx, models.CollectionRatings, rec.ID, models.Patch{VoteCount: &five}); err != nil {
		t.Fatalf("Patch up: %v", err)
	}
	two := int64(2)
	if err := db.Patch(ctx, models.CollectionRatings, rec.ID, models.Patch{VoteCount: &two}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Patch down err = %v, want ErrConflict", err)
	}
	if err := db.Patch(ctx, models.CollectionRatings, "missing", models.Patch{VoteCount: &five}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Patch missing err = %v, want ErrNotFound", err)
	}
	if err := db.Patch(ctx, models.CollectionRatings, rec.ID, models.Patch{}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty patch err = %v, want ErrInvalid", err)
	}

	got, _ := db.Get(ctx, models.CollectionRatings, rec.ID)
	if got.VoteCount != 5 {
		t.Errorf("voteCount = %d, want 5", got.VoteCount)
	}
}

func TestIncrementVoteConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec, _ := db.Create(ctx, models.CollectionConfessions, models.Record{Text: "I ate the last slice of cake."})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.IncrementVote(ctx, models.CollectionConfessions, rec.ID); err != nil {
				t.Errorf("IncrementVote: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := db.Get(ctx, models.CollectionConfessions, rec.ID)
	if got.VoteCount != 10 {
		t.Errorf("voteCount = %d, want 10", got.VoteCount)
	}
	if _, err := db.IncrementVote(ctx, models.CollectionConfessions, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
}

func TestOnChange(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	db.OnChange(func(c string) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	rec, _ := db.Create(ctx, models.CollectionRatings, newRating("A", "Math", 3))
	_, _ = db.IncrementVote(ctx, models.CollectionRatings, rec.ID)
	_, _ = db.Create(ctx, models.CollectionRatings, newRating("B", "Math", 9)) // rejected

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != models.CollectionRatings {
		t.Errorf("notifications = %v, want 2 for %s", got, models.CollectionRatings)
	}
}

func TestGuardOverCollection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec, _ := db.Create(ctx, models.CollectionRatings, newRating("A", "Math", 3))

	tr := guard.NewTracker(db.KV(ctx, "device-1", time.Second), guard.KeyHelpfulRatings)
	g := guard.New(db.Collection(models.CollectionRatings))

	n, _, err := tr.Vote(ctx, g, rec.ID)
	if err != nil || n != 1 {
		t.Fatalf("first vote = %d, %v", n, err)
	}
	if _, _, err := tr.Vote(ctx, g, rec.ID); !errors.Is(err, guard.ErrAlreadyVoted) {
		t.Errorf("second vote err = %v, want ErrAlreadyVoted", err)
	}

	// A different device has its own guard set.
	other := guard.NewTracker(db.KV(ctx, "device-2", time.Second), guard.KeyHelpfulRatings)
	n, _, err = other.Vote(ctx, g, rec.ID)
	if err != nil || n != 2 {
		t.Errorf("other device vote = %d, %v; want 2", n, err)
	}

	set, err := tr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !guard.HasVoted(set, rec.ID) {
		t.Error("guard set not persisted")
	}
}

func TestKVHonorsContext(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	kv := db.KV(ctx, "device-1", time.Second)
	if err := kv.Write("k", []string{"r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	cancel()
	if err := kv.Write("k", []string{"r1", "r2"}); !errors.Is(err, context.Canceled) {
		t.Errorf("write after cancel = %v, want context.Canceled", err)
	}
	var got []string
	if _, err := kv.Read("k", &got); !errors.Is(err, context.Canceled) {
		t.Errorf("read after cancel = %v, want context.Canceled", err)
	}

	// The stored value is untouched.
	ok, err := db.KV(context.Background(), "device-1", 0).Read("k", &got)
	if err != nil || !ok || len(got) != 1 {
		t.Errorf("read = %v, %v, %v", got, ok, err)
	}
}

func TestSeed(t *testing.T) {
	db := testDB(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	fixture := `
teacher-ratings:
  - id: r1
    subjectName: Dr. Lee
    subjectCategory: Mathematics
    score: 5
    text: Best calculus lectures I have attended.
    createdAtMillis: 1700000000000
    voteCount: 3
confessions:
  - id: c1
    subjectCategory: love
    text: I wrote a poem for my lab partner.
`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFixtures(path)
	if err != nil {
		t.Fatalf("LoadFixtures: %v", err)
	}

	ctx := context.Background()
	counts, err := db.Seed(ctx, f)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if counts[models.CollectionRatings] != 1 || counts[models.CollectionConfessions] != 1 {
		t.Errorf("counts = %v", counts)
	}

	r1, err := db.Get(ctx, models.CollectionRatings, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r1.VoteCount != 3 || r1.CreatedAtMillis != 1700000000000 {
		t.Errorf("r1 = %+v", r1)
	}

	// Seeding twice is idempotent.
	counts, err = db.Seed(ctx, f)
	if err != nil || counts[models.CollectionRatings] != 0 {
		t.Errorf("reseed counts = %v, %v", counts, err)
	}
}

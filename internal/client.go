package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/board"
	"github.com/starford/duetology/internal/localstore"
	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/realtime"
)

// deviceKey holds the anonymous id of this installation in the local store.
const deviceKey = "duetology_device_id"

const reconnectBackoff = 2 * time.Second

type clientSession struct {
	app    *application
	rt     *realtime.Client
	kv     *localstore.Store
	logger *slog.Logger
}

func openClient(opts []Option) (*clientSession, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg := app.config.Client

	dir := cfg.StateDir
	if dir == "" {
		if dir, err = localstore.DefaultDir(); err != nil {
			return nil, err
		}
	}
	kv, err := localstore.Open(dir)
	if err != nil {
		return nil, err
	}
	logger := app.log(os.Stderr)
	logger.Debug("local store opened", slog.String("dir", kv.Dir()))

	device, err := deviceID(kv)
	if err != nil {
		return nil, err
	}

	rt, err := realtime.New(cfg.Server,
		realtime.WithToken(cfg.Token),
		realtime.WithDevice(device),
		realtime.WithAtomicIncrement(cfg.Atomic),
	)
	if err != nil {
		return nil, err
	}
	return &clientSession{app: app, rt: rt, kv: kv, logger: logger}, nil
}

// deviceID returns the persisted installation id, creating it on first use.
func deviceID(kv *localstore.Store) (string, error) {
	var id string
	ok, err := kv.Read(deviceKey, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := kv.Write(deviceKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// board builds the view of collection and loads its current snapshot.
func (s *clientSession) board(ctx context.Context, collection string, c aggregate.Criteria) (*board.Board, error) {
	b, err := board.New(collection, s.rt.Collection(collection), s.kv,
		board.WithGuardTimeout(s.app.config.Guard.Timeout),
	)
	if err != nil {
		return nil, err
	}
	snap, err := s.rt.List(ctx, collection, aggregate.Criteria{})
	if err != nil {
		return nil, err
	}
	b.Apply(snap)
	b.SetCriteria(c)
	return b, nil
}

// ListRatings prints per-teacher summaries followed by the individual ratings.
func ListRatings(ctx context.Context, c aggregate.Criteria, opts ...Option) error {
	s, err := openClient(opts)
	if err != nil {
		return err
	}
	b, err := s.board(ctx, models.CollectionRatings, c)
	if err != nil {
		return err
	}
	return renderRatings(s.app.out, b)
}

// ListConfessions prints the confessions feed.
func ListConfessions(ctx context.Context, c aggregate.Criteria, opts ...Option) error {
	s, err := openClient(opts)
	if err != nil {
		return err
	}
	b, err := s.board(ctx, models.CollectionConfessions, c)
	if err != nil {
		return err
	}
	return renderConfessions(s.app.out, b)
}

// Vote marks a rating helpful or likes a confession, once per installation.
// With serverGuard the server tracks the vote for this device instead of the
// local guard file.
func Vote(ctx context.Context, collection, id string, serverGuard bool, opts ...Option) (int64, error) {
	s, err := openClient(opts)
	if err != nil {
		return 0, err
	}

	if serverGuard {
		res, err := s.rt.Vote(ctx, collection, id)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(s.app.out, "voted %s: %d\n", id, res.VoteCount)
		return res.VoteCount, nil
	}

	b, err := board.New(collection, s.rt.Collection(collection), s.kv,
		board.WithGuardTimeout(s.app.config.Guard.Timeout),
	)
	if err != nil {
		return 0, err
	}
	n, err := b.Vote(ctx, id)
	if err != nil && n == 0 {
		return 0, err
	}
	if err != nil {
		s.logger.Warn("vote counted but not remembered locally",
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
	fmt.Fprintf(s.app.out, "voted %s: %d\n", id, n)
	return n, nil
}

// Watch re-renders collection on every snapshot pushed by the server and on
// every vote recorded by another process on this machine, until ctx ends.
func Watch(ctx context.Context, collection string, c aggregate.Criteria, opts ...Option) error {
	s, err := openClient(opts)
	if err != nil {
		return err
	}
	b, err := board.New(collection, s.rt.Collection(collection), s.kv,
		board.WithGuardTimeout(s.app.config.Guard.Timeout),
	)
	if err != nil {
		return err
	}
	b.SetCriteria(c)

	var mu sync.Mutex
	render := func() {
		mu.Lock()
		defer mu.Unlock()
		var err error
		if collection == models.CollectionRatings {
			err = renderRatings(s.app.out, b)
		} else {
			err = renderConfessions(s.app.out, b)
		}
		if err != nil {
			s.logger.Error("render failed", slog.String("error", err.Error()))
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.kv.Watch(gCtx, s.logger, func(key string) {
			if key != b.GuardKey() {
				return
			}
			if err := b.Reload(); err != nil {
				s.logger.Warn("reload vote guard failed", slog.String("error", err.Error()))
				return
			}
			render()
		})
	})

	g.Go(func() error {
		return s.rt.Follow(gCtx, collection, reconnectBackoff, s.logger, func(snap models.Snapshot) {
			if b.Apply(snap) {
				render()
			}
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func starBar(avg float64) string {
	full := int(math.Round(avg))
	if full < 0 {
		full = 0
	}
	if full > models.MaxScore {
		full = models.MaxScore
	}
	return strings.Repeat("★", full) + strings.Repeat("☆", models.MaxScore-full)
}

func voteMark(it board.Item) string {
	if it.Voted {
		return "✓"
	}
	return ""
}

func renderRatings(w io.Writer, b *board.Board) error {
	sums := b.Summaries()
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "No ratings found.")
		return err
	}

	items := b.Items()
	byID := make(map[string]board.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, sm := range sums {
		fmt.Fprintf(tw, "%s (%s)\t%s %.1f\t%d rating(s)\n",
			sm.SubjectName, sm.SubjectCategory, starBar(sm.AverageScore), sm.Rounded(), sm.Count)
		for _, r := range aggregate.SortNewestFirst(sm.Records) {
			it := byID[r.ID]
			fmt.Fprintf(tw, "  %s\t%s\t%s\t👍 %d %s\t%s\n",
				it.ID, starBar(float64(it.ScoreValue())), it.Age, it.VoteCount, voteMark(it), it.Text)
		}
	}
	return tw.Flush()
}

func renderConfessions(w io.Writer, b *board.Board) error {
	items := b.Items()
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No confessions found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t[%s]\t%s\t❤ %d %s\t%s\n",
			it.ID, it.SubjectCategory, it.Age, it.VoteCount, voteMark(it), it.Text)
	}
	return tw.Flush()
}

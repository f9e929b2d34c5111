// Package service coordinates the record store, the vote guard, the aggregator
// and the realtime broker behind one API used by the HTTP and MCP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/checksum"
	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/metrics"
	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/recordstore"
	"github.com/starford/duetology/internal/sse"
)

// EventSnapshot is the SSE event type carrying a full collection snapshot.
const EventSnapshot = "snapshot"

// VoteResult is the outcome of a successful device vote.
type VoteResult struct {
	ID        string    `json:"id"`
	VoteCount int64     `json:"voteCount"`
	Voted     guard.Set `json:"voted"`
}

// Service is the application core shared by every transport.
type Service struct {
	db           *recordstore.DB
	broker       *sse.Broker
	metrics      *metrics.Manager
	log          *slog.Logger
	guardTimeout time.Duration
	keepAlive    time.Duration
	eventBuffer  int

	devices [deviceStripes]sync.Mutex
}

// deviceStripes is the number of locks shared by all device ids.
const deviceStripes = 64

// New creates the service and starts its realtime broker. Every committed
// mutation of db is published to subscribers as a fresh snapshot.
func New(db *recordstore.DB, opts ...Option) *Service {
	s := &Service{
		db:           db,
		log:          slog.Default(),
		guardTimeout: guard.DefaultTimeout,
		keepAlive:    15 * time.Second,
		eventBuffer:  64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewManager()
	}

	s.broker = sse.NewBroker(s.keepAlive,
		sse.WithInitial(s.initialEvent),
		sse.WithBuffer(s.eventBuffer),
	)
	db.OnChange(s.publish)
	return s
}

// Close stops the broker and disconnects stream clients.
func (s *Service) Close() {
	s.broker.Close()
}

// Metrics returns the service metrics.
func (s *Service) Metrics() *metrics.Manager {
	return s.metrics
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Snapshot returns the full content of a collection with its checksum.
func (s *Service) Snapshot(ctx context.Context, collection string) (models.Snapshot, error) {
	recs, err := s.db.List(ctx, collection)
	if err != nil {
		return models.Snapshot{}, err
	}
	sum, err := checksum.JSON(recs)
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{Collection: collection, Records: recs, Checksum: sum}, nil
}

// List returns the snapshot of a collection narrowed by c.
func (s *Service) List(ctx context.Context, collection string, c aggregate.Criteria) (models.Snapshot, error) {
	snap, err := s.Snapshot(ctx, collection)
	if err != nil {
		return models.Snapshot{}, err
	}
	if c.IsZero() {
		return snap, nil
	}
	snap.Records = aggregate.Filter(snap.Records, c)
	sum, err := checksum.JSON(snap.Records)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap.Checksum = sum
	return snap, nil
}

// Summaries groups the ratings that match c into per-teacher statistics.
func (s *Service) Summaries(ctx context.Context, c aggregate.Criteria) ([]aggregate.Summary, error) {
	recs, err := s.db.List(ctx, models.CollectionRatings)
	if err != nil {
		return nil, err
	}
	out := aggregate.Summarize(aggregate.Filter(recs, c))
	if out == nil {
		out = []aggregate.Summary{}
	}
	return out, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, collection, id string) (models.Record, error) {
	return s.db.Get(ctx, collection, id)
}

// Submit validates and stores a new record.
func (s *Service) Submit(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	out, err := s.db.Create(ctx, collection, rec)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalid) {
			s.metrics.Rejected(collection)
		}
		return models.Record{}, err
	}
	s.metrics.Submitted(collection)
	s.log.Info("record submitted",
		slog.String("collection", collection),
		slog.String("id", out.ID),
	)
	return out, nil
}

// Patch applies a partial write to a record.
func (s *Service) Patch(ctx context.Context, collection, id string, p models.Patch) (models.Record, error) {
	if err := s.db.Patch(ctx, collection, id, p); err != nil {
		return models.Record{}, err
	}
	return s.db.Get(ctx, collection, id)
}

// Increment bumps the vote counter of a record without any guard.
func (s *Service) Increment(ctx context.Context, collection, id string) (int64, error) {
	return s.db.IncrementVote(ctx, collection, id)
}

func validateDevice(device string) error {
	if err := validation.Validate(device, validation.Required, validation.RuneLength(1, 128)); err != nil {
		return fmt.Errorf("%w: device id: %w", apperr.ErrInvalid, err)
	}
	return nil
}

func (s *Service) tracker(ctx context.Context, device, collection string) (*guard.Tracker, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}
	key, err := guard.KeyFor(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return guard.NewTracker(s.db.KV(ctx, "device:"+device, s.guardTimeout), key), nil
}

func deviceStripe(device string) int {
	return int(xxhash.Sum64String(device) % deviceStripes)
}

func (s *Service) lockDevice(device string) func() {
	mu := &s.devices[deviceStripe(device)]
	mu.Lock()
	return mu.Unlock
}

// Votes returns the guard set of a device for a collection.
func (s *Service) Votes(ctx context.Context, device, collection string) (guard.Set, error) {
	tr, err := s.tracker(ctx, device, collection)
	if err != nil {
		return guard.Set{}, err
	}
	return tr.Load()
}

// Vote casts the device's single vote on a record. Votes of one device are
// serialized so the device cannot race its own guard set.
func (s *Service) Vote(ctx context.Context, device, collection, id string) (VoteResult, error) {
	tr, err := s.tracker(ctx, device, collection)
	if err != nil {
		return VoteResult{}, err
	}
	unlock := s.lockDevice(device)
	defer unlock()

	g := guard.New(s.db.Collection(collection), guard.WithTimeout(s.guardTimeout))
	n, set, err := tr.Vote(ctx, g, id)
	switch {
	case err == nil:
		s.metrics.Voted(collection, metrics.OutcomeCounted)
	case errors.Is(err, guard.ErrAlreadyVoted):
		s.metrics.Voted(collection, metrics.OutcomeAlreadyVoted)
		return VoteResult{}, err
	case errors.Is(err, guard.ErrNotFound):
		s.metrics.Voted(collection, metrics.OutcomeNotFound)
		return VoteResult{}, err
	case n > 0:
		// Counted, but the guard set could not be saved.
		s.metrics.Voted(collection, metrics.OutcomeCounted)
		s.log.Warn("vote counted but guard not persisted",
			slog.String("collection", collection),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	default:
		s.metrics.Voted(collection, metrics.OutcomeStoreError)
		return VoteResult{}, err
	}
	return VoteResult{ID: id, VoteCount: n, Voted: set}, nil
}

// Events returns the SSE handler streaming collection snapshots.
func (s *Service) Events() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { s.metrics.SetSSEClients(s.broker.ClientCount()) }()
		s.broker.ServeHTTP(w, r)
	})
}

func (s *Service) initialEvent(topic string) (sse.Event, error) {
	if !models.IsCollection(topic) {
		return sse.Event{}, fmt.Errorf("unknown collection %q", topic)
	}
	snap, err := s.Snapshot(context.Background(), topic)
	if err != nil {
		return sse.Event{}, err
	}
	s.metrics.SetSSEClients(s.broker.ClientCount())
	return sse.Event{Type: EventSnapshot, Topic: topic, Data: snap}, nil
}

func (s *Service) publish(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := s.Snapshot(ctx, collection)
	if err != nil {
		s.log.Error("snapshot failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()),
		)
		return
	}
	s.broker.Publish(sse.Event{Type: EventSnapshot, Topic: collection, Data: snap})
	s.metrics.SnapshotPublished(collection)
	s.metrics.SetSSEClients(s.broker.ClientCount())
}

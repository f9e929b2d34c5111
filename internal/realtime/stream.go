package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/models"
)

// SnapshotFunc receives every snapshot pushed for a collection.
type SnapshotFunc func(models.Snapshot)

// Subscribe follows the snapshot feed of collection, calling fn for the
// initial snapshot and every later one, until ctx is cancelled or the stream
// ends. It returns nil only when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) error {
	target := c.endpoint(url.Values{"collection": {collection}}, "events")
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams stay open; a client-wide timeout would cut them.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("realtime: subscribe %s: %w", collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodGet, req.URL.Path, resp)
	}

	err = readEvents(resp.Body, func(event string, data []byte) error {
		if event != "snapshot" {
			return nil
		}
		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("realtime: decode snapshot: %w", err)
		}
		fn(snap)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("stream closed by server")
	}
	return fmt.Errorf("realtime: subscribe %s: %w", collection, err)
}

// Follow is Subscribe with reconnects: after a dropped stream it waits
// backoff and subscribes again, until ctx is cancelled.
func (c *Client) Follow(ctx context.Context, collection string, backoff time.Duration, logger *slog.Logger, fn SnapshotFunc) error {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		err := c.Subscribe(ctx, collection, fn)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		logger.Warn("realtime: stream dropped, reconnecting",
			slog.String("collection", collection),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// permanent reports errors a reconnect cannot fix.
func permanent(err error) bool {
	return errors.Is(err, apperr.ErrInvalid) || errors.Is(err, apperr.ErrNotFound) || errors.Is(err, ErrUnauthorized)
}

// readEvents parses a text/event-stream body and calls fn once per dispatched event.
func readEvents(body io.Reader, fn func(event string, data []byte) error) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 8<<20)

	var (
		event string
		data  []string
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				if err := fn(event, []byte(strings.Join(data, "\n"))); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

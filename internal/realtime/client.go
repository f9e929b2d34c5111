// Package realtime is the client side of the record store: a small HTTP
// client for the duetology API that also follows the SSE snapshot feed.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/guard"
	"github.com/starford/duetology/internal/models"
)

// DeviceHeader carries the anonymous client identity for server-side votes.
const DeviceHeader = "X-Device-ID"

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("realtime: unauthorized")

// Client talks to a duetology server.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	device string
	atomic bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithDevice sets the device identity used for server-side votes.
func WithDevice(device string) Option {
	return func(c *Client) { c.device = device }
}

// WithAtomicIncrement makes collection views use the server-side increment
// instead of a read-modify-write.
func WithAtomicIncrement(enabled bool) Option {
	return func(c *Client) { c.atomic = enabled }
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("realtime: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("realtime: base url %q needs scheme and host", baseURL)
	}
	c := &Client{base: u, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(query url.Values, parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = c.base.Path + "/api/" + strings.Join(parts, "/")
	u.RawPath = c.base.EscapedPath() + "/api/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("realtime: encode body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("realtime: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.device != "" {
		req.Header.Set(DeviceHeader, c.device)
	}
	return req, nil
}

// do sends the request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("realtime: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, req.URL.Path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("realtime: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusNotFound:
		kind = apperr.ErrNotFound
	case http.StatusBadRequest:
		kind = apperr.ErrInvalid
	case http.StatusConflict:
		if msg == "already voted" {
			kind = guard.ErrAlreadyVoted
		} else {
			kind = apperr.ErrConflict
		}
	default:
		return fmt.Errorf("realtime: %s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return fmt.Errorf("realtime: %s %s: %s: %w", method, path, msg, kind)
}

// Get returns one record.
func (c *Client) Get(ctx context.Context, collection, id string) (models.Record, error) {
	var rec models.Record
	err := c.do(ctx, http.MethodGet, c.endpoint(nil, collection, id), nil, &rec)
	return rec, err
}

// Patch writes the partial fields of a record.
func (c *Client) Patch(ctx context.Context, collection, id string, p models.Patch) error {
	return c.do(ctx, http.MethodPatch, c.endpoint(nil, collection, id), p, nil)
}

// Increment atomically adds one to the vote counter of a record.
func (c *Client) Increment(ctx context.Context, collection, id string) (int64, error) {
	var out struct {
		VoteCount int64 `json:"voteCount"`
	}
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, collection, id, "increment"), nil, &out)
	return out.VoteCount, err
}

// Submit creates a record.
func (c *Client) Submit(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	body := map[string]any{
		"subjectName":     rec.SubjectName,
		"subjectCategory": rec.SubjectCategory,
		"text":            rec.Text,
	}
	if rec.Score != nil {
		body["score"] = *rec.Score
	}
	var out models.Record
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, collection), body, &out)
	return out, err
}

func criteriaQuery(categoryKey, scoreKey string, cr aggregate.Criteria) url.Values {
	q := url.Values{}
	if cr.Category != "" && cr.Category != aggregate.AllCategories {
		q.Set(categoryKey, cr.Category)
	}
	if s := strings.TrimSpace(cr.Search); s != "" {
		q.Set("q", s)
	}
	if cr.MinScore > 0 {
		q.Set(scoreKey, strconv.Itoa(cr.MinScore))
	}
	return q
}

// List returns a collection snapshot, filtered server-side by cr.
func (c *Client) List(ctx context.Context, collection string, cr aggregate.Criteria) (models.Snapshot, error) {
	var snap models.Snapshot
	err := c.do(ctx, http.MethodGet, c.endpoint(criteriaQuery("category", "min_score", cr), collection), nil, &snap)
	return snap, err
}

// Summaries returns per-teacher summaries of the ratings matching cr.
func (c *Client) Summaries(ctx context.Context, cr aggregate.Criteria) ([]aggregate.Summary, error) {
	var out struct {
		Summaries []aggregate.Summary `json:"summaries"`
	}
	target := c.endpoint(criteriaQuery("department", "min_stars", cr), models.CollectionRatings, "summary")
	err := c.do(ctx, http.MethodGet, target, nil, &out)
	return out.Summaries, err
}

// VoteResult is the server's answer to a device vote.
type VoteResult struct {
	ID        string    `json:"id"`
	VoteCount int64     `json:"voteCount"`
	Voted     guard.Set `json:"voted"`
}

// Vote asks the server to cast this device's vote, guarded server-side.
func (c *Client) Vote(ctx context.Context, collection, id string) (VoteResult, error) {
	if c.device == "" {
		return VoteResult{}, fmt.Errorf("realtime: vote: %w: no device id", apperr.ErrInvalid)
	}
	var out VoteResult
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, collection, id, "vote"), nil, &out)
	return out, err
}

// Collection returns a guard-compatible view of one remote collection.
func (c *Client) Collection(name string) guard.RecordStore {
	rc := &RemoteCollection{c: c, name: name}
	if c.atomic {
		return &AtomicCollection{RemoteCollection: rc}
	}
	return rc
}

// RemoteCollection adapts one collection to guard.RecordStore.
type RemoteCollection struct {
	c    *Client
	name string
}

func (r *RemoteCollection) Get(ctx context.Context, id string) (models.Record, error) {
	return r.c.Get(ctx, r.name, id)
}

func (r *RemoteCollection) Write(ctx context.Context, id string, p models.Patch) error {
	return r.c.Patch(ctx, r.name, id, p)
}

// AtomicCollection additionally increments server-side.
type AtomicCollection struct {
	*RemoteCollection
}

func (a *AtomicCollection) IncrementVote(ctx context.Context, id string) (int64, error) {
	return a.c.Increment(ctx, a.name, id)
}

var (
	_ guard.RecordStore = (*RemoteCollection)(nil)
	_ guard.Incrementer = (*AtomicCollection)(nil)
)

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/checksum"
	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func collectionParam(r *http.Request) string {
	return chi.URLParam(r, "collection")
}

// criteria reads the list filters. scoreKey and categoryKey differ between the
// generic list and the teacher summary endpoint.
func criteria(r *http.Request, categoryKey, scoreKey string) (aggregate.Criteria, bool) {
	q := r.URL.Query()
	c := aggregate.Criteria{
		Category: q.Get(categoryKey),
		Search:   q.Get("q"),
	}
	if raw := strings.TrimSpace(q.Get(scoreKey)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > models.MaxScore {
			return aggregate.Criteria{}, false
		}
		c.MinScore = n
	}
	return c, true
}

// List handles GET /api/{collection}.
//
//	@Summary	Snapshot of a collection, newest first
//	@Param		category	query	string	false	"Exact category, or all"
//	@Param		q			query	string	false	"Case-insensitive subject search"
//	@Param		min_score	query	int		false	"Minimum score, 0 disables"
//	@Success	200	{object}	ListResponse
//	@Router		/{collection} [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := criteria(r, "category", "min_score")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("min_score must be an integer between 0 and 5"))
		return
	}
	snap, err := h.svc.List(r.Context(), collectionParam(r), c)
	if err != nil {
		writeError(w, err)
		return
	}

	etag := checksum.ETag(snap.Checksum)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Snapshot: snap, Total: len(snap.Records)})
}

// Submit handles POST /api/{collection}.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	rec, err := h.svc.Submit(r.Context(), collectionParam(r), req.record())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/{collection}/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), collectionParam(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Patch handles PATCH /api/{collection}/{id}.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	var p models.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	rec, err := h.svc.Patch(r.Context(), collectionParam(r), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Increment handles POST /api/{collection}/{id}/increment.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.Increment(r.Context(), collectionParam(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IncrementResponse{ID: id, VoteCount: n})
}

// Vote handles POST /api/{collection}/{id}/vote.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Vote(r.Context(), deviceID(r), collectionParam(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Votes handles GET /api/{collection}/votes.
func (h *Handler) Votes(w http.ResponseWriter, r *http.Request) {
	collection := collectionParam(r)
	set, err := h.svc.Votes(r.Context(), deviceID(r), collection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VotesResponse{Collection: collection, Voted: set.IDs()})
}

// Summaries handles GET /api/teacher-ratings/summary.
func (h *Handler) Summaries(w http.ResponseWriter, r *http.Request) {
	c, ok := criteria(r, "department", "min_stars")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("min_stars must be an integer between 0 and 5"))
		return
	}
	sums, err := h.svc.Summaries(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]SummaryItem, len(sums))
	for i, s := range sums {
		items[i] = SummaryItem{Summary: s, AverageRounded: s.Rounded()}
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summaries: items})
}

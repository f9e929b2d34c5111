package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/service"
)

// NewRouter creates a chi router with all API routes, meant to be mounted at /api.
// authEnabled controls whether Bearer token auth is enforced on every route,
// the SSE feed included.
func NewRouter(svc *service.Service, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// SSE snapshot feed.
	r.Get("/events", svc.Events().ServeHTTP)

	r.Get("/"+models.CollectionRatings+"/summary", h.Summaries)

	r.Route("/{collection}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Submit)
		r.With(RequireDevice).Get("/votes", h.Votes)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Patch)
			r.Post("/increment", h.Increment)
			r.With(RequireDevice).Post("/vote", h.Vote)
		})
	})

	return r
}

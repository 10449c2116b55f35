package routes

import (
	"Skein/internal/api/handlers/action"

	"github.com/go-chi/chi/v5"
)

// RegisterActionRoutes registers per-post action endpoints and the offline
// queue listing. Stable ids must be path-escaped by clients.
func RegisterActionRoutes(r chi.Router, service action.Service) {
	h := action.NewHandler(service)

	r.Route("/api/posts/{stableID}", func(r chi.Router) {
		r.Get("/state", h.HandleGetState)
		r.Post("/like", h.HandleToggleLike)
		r.Post("/repost", h.HandleToggleRepost)
		r.Post("/reply", h.HandleReplySuccess)
		r.Post("/quote", h.HandleQuoteSuccess)
		r.Post("/refresh", h.HandleRefresh)
		r.Post("/follow", h.HandleFollow)
		r.Post("/mute", h.HandleMute)
		r.Post("/block", h.HandleBlock)
	})

	r.Get("/api/actions/queued", h.HandleListQueued)
}

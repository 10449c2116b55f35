package action

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
)

// Service is the part of the action coordinator the HTTP surface drives
type Service interface {
	Post(key string) (actions.Post, bool, error)
	Status(key string) (actions.Status, bool, error)
	ToggleLike(post actions.Post) (actions.PostActionState, error)
	ToggleRepost(post actions.Post) (actions.PostActionState, error)
	Follow(post actions.Post, value bool) (actions.PostActionState, error)
	Mute(post actions.Post, value bool) (actions.PostActionState, error)
	Block(post actions.Post, value bool) (actions.PostActionState, error)
	RegisterReplySuccess(post actions.Post) (actions.PostActionState, error)
	RegisterQuoteSuccess(post actions.Post) (actions.PostActionState, error)
	RefreshIfStale(post actions.Post) (bool, error)
	QueuedActions() ([]actions.PendingAction, error)
}

// Handler serves the per-post action endpoints
type Handler struct {
	service Service
}

// NewHandler creates a new action handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// stableID reads the {stableID} route parameter. Stable ids embed AT-URIs, so
// clients send them path-escaped.
func stableID(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "stableID")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// lookup resolves the request's post, writing the error response on failure.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (actions.Post, bool) {
	key, ok := stableID(r)
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "stableID is required")
		return actions.Post{}, false
	}

	post, found, err := h.service.Post(key)
	if err != nil {
		handleServiceError(w, err)
		return actions.Post{}, false
	}
	if !found {
		handleServiceError(w, actions.ErrUnknownPost)
		return actions.Post{}, false
	}
	return post, true
}

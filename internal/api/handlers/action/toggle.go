package action

import (
	"net/http"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
)

// HandleToggleLike likes or unlikes a post depending on its current state
// POST /api/posts/{stableID}/like
func (h *Handler) HandleToggleLike(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.ToggleLike)
}

// HandleToggleRepost reposts or un-reposts a post depending on its current state
// POST /api/posts/{stableID}/repost
func (h *Handler) HandleToggleRepost(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.ToggleRepost)
}

// HandleReplySuccess records that the user replied to a post
// POST /api/posts/{stableID}/reply
func (h *Handler) HandleReplySuccess(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.RegisterReplySuccess)
}

// HandleQuoteSuccess records that the user quoted a post
// POST /api/posts/{stableID}/quote
func (h *Handler) HandleQuoteSuccess(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.RegisterQuoteSuccess)
}

// HandleRefresh asks for authoritative state when the tracked state is stale
// POST /api/posts/{stableID}/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookup(w, r)
	if !ok {
		return
	}

	issued, err := h.service.RefreshIfStale(post)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusAccepted, map[string]bool{"issued": issued})
}

// apply runs op on the request's post and replies with the resulting state.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request, op func(actions.Post) (actions.PostActionState, error)) {
	post, ok := h.lookup(w, r)
	if !ok {
		return
	}

	state, err := op(post)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, state)
}

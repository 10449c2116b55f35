package action

import (
	"encoding/json"
	"net/http"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
)

// RelationshipInput is the body of the follow, mute and block endpoints
type RelationshipInput struct {
	Value *bool `json:"value"`
}

// HandleFollow sets whether the user follows the post's author
// POST /api/posts/{stableID}/follow
func (h *Handler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	h.setRelationship(w, r, h.service.Follow)
}

// HandleMute sets whether the post's author is muted
// POST /api/posts/{stableID}/mute
func (h *Handler) HandleMute(w http.ResponseWriter, r *http.Request) {
	h.setRelationship(w, r, h.service.Mute)
}

// HandleBlock sets whether the post's author is blocked
// POST /api/posts/{stableID}/block
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	h.setRelationship(w, r, h.service.Block)
}

func (h *Handler) setRelationship(w http.ResponseWriter, r *http.Request, op func(actions.Post, bool) (actions.PostActionState, error)) {
	var input RelationshipInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if input.Value == nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "value is required")
		return
	}

	h.apply(w, r, func(p actions.Post) (actions.PostActionState, error) {
		return op(p, *input.Value)
	})
}

package action

import (
	"net/http"
	"time"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
)

// QueuedActionsResponse is the body of GET /api/actions/queued
type QueuedActionsResponse struct {
	Actions []QueuedAction `json:"actions"`
}

// QueuedAction is one intent waiting for the network to come back
type QueuedAction struct {
	StableID string    `json:"stableId"`
	Platform string    `json:"platform"`
	Intent   string    `json:"intent"`
	QueuedAt time.Time `json:"queuedAt"`
}

// HandleGetState returns a post's action state and its pending/inflight flags
// GET /api/posts/{stableID}/state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	key, ok := stableID(r)
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "stableID is required")
		return
	}

	status, found, err := h.service.Status(key)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !found {
		handleServiceError(w, actions.ErrUnknownPost)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, status)
}

// HandleListQueued lists the offline queue
// GET /api/actions/queued
func (h *Handler) HandleListQueued(w http.ResponseWriter, r *http.Request) {
	queued, err := h.service.QueuedActions()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := QueuedActionsResponse{Actions: make([]QueuedAction, 0, len(queued))}
	for _, a := range queued {
		resp.Actions = append(resp.Actions, QueuedAction{
			StableID: a.Post.StableID,
			Platform: a.Post.Platform,
			Intent:   a.Intent.String(),
			QueuedAt: a.CreatedAt,
		})
	}

	handlers.WriteJSON(w, http.StatusOK, resp)
}

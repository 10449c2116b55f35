package timeline

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
	"Skein/internal/core/canonical"
)

// EntryReader reads rendered timeline entries
type EntryReader interface {
	Entries(timelineID string) ([]canonical.UIEntry, error)
}

// StateReader returns the optimistic action state of a post
type StateReader interface {
	State(key string) (actions.PostActionState, bool, error)
}

// EntryView is a timeline entry joined with the post's live action state
type EntryView struct {
	Actions *actions.PostActionState `json:"actions,omitempty"`
	canonical.UIEntry
}

// GetTimelineResponse is the body of GET /api/timelines/{timelineID}
type GetTimelineResponse struct {
	TimelineID string      `json:"timelineId"`
	Entries    []EntryView `json:"entries"`
}

// GetTimelineHandler serves a timeline's entries
type GetTimelineHandler struct {
	feed   EntryReader
	states StateReader
}

// NewGetTimelineHandler creates a new timeline handler. states may be nil, in
// which case entries carry only the server-declared viewer state.
func NewGetTimelineHandler(feed EntryReader, states StateReader) *GetTimelineHandler {
	return &GetTimelineHandler{
		feed:   feed,
		states: states,
	}
}

// HandleGetTimeline returns the timeline's entries, newest first
// GET /api/timelines/{timelineID}
func (h *GetTimelineHandler) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	timelineID := chi.URLParam(r, "timelineID")
	if timelineID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "timelineID is required")
		return
	}

	entries, err := h.feed.Entries(timelineID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := GetTimelineResponse{
		TimelineID: timelineID,
		Entries:    make([]EntryView, 0, len(entries)),
	}
	for _, e := range entries {
		view := EntryView{UIEntry: e}
		if h.states != nil {
			s, ok, err := h.states.State(e.Post.StableID)
			if err != nil {
				slog.Warn("failed to read action state", "stable_id", e.Post.StableID, "error", err)
			} else if ok {
				view.Actions = &s
			}
		}
		resp.Entries = append(resp.Entries, view)
	}

	handlers.WriteJSON(w, http.StatusOK, resp)
}

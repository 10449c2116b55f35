package timeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"Skein/internal/api/handlers"
	"Skein/internal/core/canonical"
	"Skein/internal/core/resolver"
)

const maxIngestBodyBytes = 4 << 20

// Writer merges or replaces timeline contents
type Writer interface {
	Ingest(timelineID string, posts []canonical.RawPost, source canonical.SourceContext) error
	Replace(timelineID string, posts []canonical.RawPost, source canonical.SourceContext) error
}

// Fetcher pages through the signed-in account's home timeline
type Fetcher interface {
	FetchTimeline(ctx context.Context, cursor string, limit int) ([]canonical.RawPost, string, error)
}

// IngestInput is the body of POST /api/timelines/{timelineID}/posts
type IngestInput struct {
	Source canonical.SourceContext `json:"source"`
	Posts  []canonical.RawPost     `json:"posts"`
}

// IngestOutput reports how many posts a write carried
type IngestOutput struct {
	TimelineID string `json:"timelineId"`
	Cursor     string `json:"cursor,omitempty"`
	Count      int    `json:"count"`
}

// IngestHandler writes fetched pages into timelines
type IngestHandler struct {
	feed    Writer
	fetcher Fetcher
	account string
}

// NewIngestHandler creates an ingest handler. fetcher may be nil, in which case
// the refresh endpoint reports the upstream as unavailable.
func NewIngestHandler(feed Writer, fetcher Fetcher, account string) *IngestHandler {
	return &IngestHandler{
		feed:    feed,
		fetcher: fetcher,
		account: account,
	}
}

// HandleIngest merges a page of raw posts into a timeline, or replaces the
// timeline with it when ?replace=true.
// POST /api/timelines/{timelineID}/posts
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	timelineID := chi.URLParam(r, "timelineID")
	if timelineID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "timelineID is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)
	var input IngestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if input.Source.RequestID == "" {
		input.Source.RequestID = uuid.NewString()
	}

	replace := r.URL.Query().Get("replace") == "true"
	var err error
	if replace {
		err = h.feed.Replace(timelineID, input.Posts, input.Source)
	} else {
		err = h.feed.Ingest(timelineID, input.Posts, input.Source)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, IngestOutput{
		TimelineID: timelineID,
		Count:      len(input.Posts),
	})
}

// HandleRefresh pulls a page of the home timeline from the network. Without a
// cursor the page replaces the timeline; with one it is merged.
// POST /api/timelines/{timelineID}/refresh?cursor=...&limit=50
func (h *IngestHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	timelineID := chi.URLParam(r, "timelineID")
	if timelineID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "timelineID is required")
		return
	}
	if h.fetcher == nil {
		handlers.WriteError(w, http.StatusServiceUnavailable, "NoAccount", "No network account is configured")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	posts, next, err := h.fetcher.FetchTimeline(r.Context(), cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	source := canonical.SourceContext{
		AccountID: h.account,
		Platform:  resolver.PlatformBluesky,
		RequestID: uuid.NewString(),
	}
	if cursor == "" {
		err = h.feed.Replace(timelineID, posts, source)
	} else {
		err = h.feed.Ingest(timelineID, posts, source)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, IngestOutput{
		TimelineID: timelineID,
		Cursor:     next,
		Count:      len(posts),
	})
}

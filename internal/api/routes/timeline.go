package routes

import (
	"Skein/internal/api/handlers/timeline"

	"github.com/go-chi/chi/v5"
)

// TimelineDeps groups what the timeline endpoints read from and write to
type TimelineDeps struct {
	Feed interface {
		timeline.EntryReader
		timeline.Writer
	}
	States  timeline.StateReader
	Fetcher timeline.Fetcher
	Account string
}

// RegisterTimelineRoutes registers timeline read and ingest endpoints
func RegisterTimelineRoutes(r chi.Router, deps TimelineDeps) {
	getTimelineHandler := timeline.NewGetTimelineHandler(deps.Feed, deps.States)
	ingestHandler := timeline.NewIngestHandler(deps.Feed, deps.Fetcher, deps.Account)

	r.Route("/api/timelines/{timelineID}", func(r chi.Router) {
		r.Get("/", getTimelineHandler.HandleGetTimeline)
		r.Post("/posts", ingestHandler.HandleIngest)
		r.Post("/refresh", ingestHandler.HandleRefresh)
	})
}

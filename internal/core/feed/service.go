// Package feed is the entry point for timeline data: it runs the canonical
// store on the serial loop and registers every ingested post with the action
// layer so its interaction state is tracked.
package feed

import (
	"errors"
	"fmt"
	"log/slog"

	"Skein/internal/core/actions"
	"Skein/internal/core/canonical"
	"Skein/internal/core/serial"
)

// ErrEmptyTimelineID is returned when a timeline operation has no timeline id
var ErrEmptyTimelineID = errors.New("timeline id is required")

// Observer receives the action-layer view of ingested posts. Observe re-syncs
// tracked state from the posts' server fields; Track only registers posts whose
// payload carried no viewer state, so known state is left as it is.
type Observer interface {
	Observe(posts ...actions.Post) error
	Track(posts ...actions.Post) error
}

// Service serializes all store access through the loop shared with the
// action coordinator.
type Service struct {
	loop     *serial.Loop
	store    *canonical.Store
	observer Observer
	logger   *slog.Logger
}

// NewService wires a store to the loop. observer may be nil.
func NewService(loop *serial.Loop, store *canonical.Store, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		loop:     loop,
		store:    store,
		observer: observer,
		logger:   logger,
	}
}

// Replace swaps a timeline's contents for a fresh snapshot.
func (s *Service) Replace(timelineID string, posts []canonical.RawPost, source canonical.SourceContext) error {
	return s.write(timelineID, posts, source, true)
}

// Ingest merges posts into a timeline.
func (s *Service) Ingest(timelineID string, posts []canonical.RawPost, source canonical.SourceContext) error {
	return s.write(timelineID, posts, source, false)
}

func (s *Service) write(timelineID string, posts []canonical.RawPost, source canonical.SourceContext, replace bool) error {
	if timelineID == "" {
		return ErrEmptyTimelineID
	}

	var synced, tracked []actions.Post
	err := s.loop.Do(func() {
		var touched []canonical.Touched
		if replace {
			touched = s.store.ReplaceTimeline(timelineID, posts, source)
		} else {
			touched = s.store.ProcessIncomingPosts(posts, timelineID, source)
		}
		for _, t := range touched {
			cp, ok := s.store.Post(t.CanonicalID)
			if !ok {
				continue
			}
			if t.ViewerUpdated {
				synced = append(synced, ToActionPost(cp.Post))
			} else {
				tracked = append(tracked, ToActionPost(cp.Post))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to write timeline %s: %w", timelineID, err)
	}

	s.logger.Debug("timeline updated",
		"timeline_id", timelineID,
		"replace", replace,
		"received", len(posts),
		"canonical", len(synced)+len(tracked))

	if s.observer == nil {
		return nil
	}
	if len(synced) > 0 {
		if err := s.observer.Observe(synced...); err != nil {
			return fmt.Errorf("failed to observe posts: %w", err)
		}
	}
	if len(tracked) > 0 {
		if err := s.observer.Track(tracked...); err != nil {
			return fmt.Errorf("failed to track posts: %w", err)
		}
	}
	return nil
}

// Entries returns the UI entries of a timeline, newest first.
func (s *Service) Entries(timelineID string) ([]canonical.UIEntry, error) {
	var out []canonical.UIEntry
	err := s.loop.Do(func() {
		out = s.store.TimelineEntriesForUI(timelineID)
	})
	return out, err
}

// Posts returns the post payloads of a timeline, newest first.
func (s *Service) Posts(timelineID string) ([]canonical.RenderablePost, error) {
	var out []canonical.RenderablePost
	err := s.loop.Do(func() {
		out = s.store.TimelinePosts(timelineID)
	})
	return out, err
}

// Known reports whether a native key is aliased to a canonical post.
func (s *Service) Known(key canonical.NativeKey) (bool, error) {
	var ok bool
	err := s.loop.Do(func() {
		_, ok = s.store.CanonicalIDFor(key)
	})
	return ok, err
}

// Timelines lists known timeline ids
func (s *Service) Timelines() ([]string, error) {
	var out []string
	err := s.loop.Do(func() {
		out = s.store.Timelines()
	})
	return out, err
}

// ToActionPost maps a canonical payload to the action layer's post. A post
// without viewer state maps to zero server fields.
func ToActionPost(p canonical.RenderablePost) actions.Post {
	var v canonical.ViewerState
	if p.Viewer != nil {
		v = *p.Viewer
	}
	return actions.Post{
		StableID: p.StableID,
		Platform: p.Platform,
		NativeID: p.NativeID,
		CID:      p.CID,
		AuthorID: p.Author.ID,
		Server: actions.PostActionState{
			StableID:          p.StableID,
			LikeCount:         v.LikeCount,
			RepostCount:       v.RepostCount,
			ReplyCount:        v.ReplyCount,
			QuoteCount:        v.QuoteCount,
			IsLiked:           v.IsLiked,
			IsReposted:        v.IsReposted,
			IsReplied:         v.IsReplied,
			IsQuoted:          v.IsQuoted,
			IsFollowingAuthor: v.IsFollowingAuthor,
			IsMutedAuthor:     v.IsMutedAuthor,
			IsBlockedAuthor:   v.IsBlockedAuthor,
		},
	}
}

// Package bsky implements post interactions and timeline fetching against
// Bluesky through the viewer's PDS.
package bsky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"Skein/internal/atproto/pds"
	"Skein/internal/core/actions"
	"Skein/internal/core/canonical"
	"Skein/internal/core/resolver"
)

// ErrPostNotFound is returned when the AppView has no view of the target post
var ErrPostNotFound = errors.New("post not found")

// Service implements actions.NetworkService for Bluesky posts. Every mutation
// first reads the post view so repeating an intent the server already holds
// is a no-op.
type Service struct {
	client pds.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ actions.NetworkService = (*Service)(nil)

// NewService creates a Bluesky service over an authenticated PDS client.
func NewService(client pds.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Like(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if state.IsLiked {
		return state, nil
	}

	if _, _, err := s.client.CreateRecord(ctx, CollectionLike, "", s.subjectRecord(CollectionLike, view)); err != nil {
		return actions.PostActionState{}, classify("like", err)
	}
	state.IsLiked = true
	state.LikeCount++
	return state, nil
}

func (s *Service) Unlike(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if view.Viewer == nil || view.Viewer.Like == "" {
		return state, nil
	}

	if err := s.deleteByURI(ctx, CollectionLike, view.Viewer.Like); err != nil {
		return actions.PostActionState{}, classify("unlike", err)
	}
	state.IsLiked = false
	state.LikeCount = max(state.LikeCount-1, 0)
	return state, nil
}

func (s *Service) Repost(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if state.IsReposted {
		return state, nil
	}

	if _, _, err := s.client.CreateRecord(ctx, CollectionRepost, "", s.subjectRecord(CollectionRepost, view)); err != nil {
		return actions.PostActionState{}, classify("repost", err)
	}
	state.IsReposted = true
	state.RepostCount++
	return state, nil
}

func (s *Service) Unrepost(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if view.Viewer == nil || view.Viewer.Repost == "" {
		return state, nil
	}

	if err := s.deleteByURI(ctx, CollectionRepost, view.Viewer.Repost); err != nil {
		return actions.PostActionState{}, classify("unrepost", err)
	}
	state.IsReposted = false
	state.RepostCount = max(state.RepostCount-1, 0)
	return state, nil
}

func (s *Service) Follow(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if state.IsFollowingAuthor == value {
		return state, nil
	}

	if value {
		_, _, err = s.client.CreateRecord(ctx, CollectionFollow, "", s.actorRecord(CollectionFollow, view.Author.DID))
	} else {
		err = s.deleteByURI(ctx, CollectionFollow, view.Author.Viewer.Following)
	}
	if err != nil {
		return actions.PostActionState{}, classify("follow", err)
	}
	state.IsFollowingAuthor = value
	return state, nil
}

func (s *Service) Mute(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if state.IsMutedAuthor == value {
		return state, nil
	}

	method := methodMuteActor
	if !value {
		method = methodUnmuteActor
	}
	if err := s.client.Procedure(ctx, method, map[string]any{"actor": view.Author.DID}, nil); err != nil {
		return actions.PostActionState{}, classify("mute", err)
	}
	state.IsMutedAuthor = value
	return state, nil
}

func (s *Service) Block(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	state := stateFromView(post.StableID, view)
	if state.IsBlockedAuthor == value {
		return state, nil
	}

	if value {
		_, _, err = s.client.CreateRecord(ctx, CollectionBlock, "", s.actorRecord(CollectionBlock, view.Author.DID))
	} else {
		err = s.deleteByURI(ctx, CollectionBlock, view.Author.Viewer.Blocking)
	}
	if err != nil {
		return actions.PostActionState{}, classify("block", err)
	}
	state.IsBlockedAuthor = value
	return state, nil
}

func (s *Service) FetchActions(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	view, err := s.getPost(ctx, post)
	if err != nil {
		return actions.PostActionState{}, err
	}
	return stateFromView(post.StableID, view), nil
}

// FetchTimeline reads one page of the viewer's home timeline as raw posts.
func (s *Service) FetchTimeline(ctx context.Context, cursor string, limit int) ([]canonical.RawPost, string, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultTimelineMax
	}
	params := map[string]any{"limit": limit}
	if cursor != "" {
		params["cursor"] = cursor
	}

	var out getTimelineOutput
	if err := s.client.Query(ctx, methodGetTimeline, params, &out); err != nil {
		return nil, "", classify("getTimeline", err)
	}

	posts := make([]canonical.RawPost, 0, len(out.Feed))
	for _, item := range out.Feed {
		posts = append(posts, feedItemToRaw(item))
	}
	s.logger.Debug("fetched bluesky timeline page", "posts", len(posts), "cursor", out.Cursor)
	return posts, out.Cursor, nil
}

func (s *Service) getPost(ctx context.Context, post actions.Post) (postView, error) {
	uri, err := syntax.ParseATURI(post.NativeID)
	if err != nil {
		return postView{}, fmt.Errorf("invalid post uri %q: %w", post.NativeID, err)
	}

	var out getPostsOutput
	if err := s.client.Query(ctx, methodGetPosts, map[string]any{"uris": uri.String()}, &out); err != nil {
		return postView{}, classify("getPosts", err)
	}
	if len(out.Posts) == 0 {
		return postView{}, fmt.Errorf("%w: %s", ErrPostNotFound, uri)
	}
	view := out.Posts[0]
	if view.CID == "" {
		view.CID = post.CID
	}
	if view.Author.DID == "" {
		view.Author.DID = post.AuthorID
	}
	if view.Author.Viewer == nil {
		view.Author.Viewer = &actorViewerState{}
	}
	return view, nil
}

func (s *Service) deleteByURI(ctx context.Context, collection, recordURI string) error {
	uri, err := syntax.ParseATURI(recordURI)
	if err != nil {
		return fmt.Errorf("invalid record uri %q: %w", recordURI, err)
	}
	if uri.Collection().String() != collection {
		return fmt.Errorf("record %s is not in %s", recordURI, collection)
	}
	return s.client.DeleteRecord(ctx, collection, uri.RecordKey().String())
}

func (s *Service) subjectRecord(collection string, view postView) subjectRecord {
	return subjectRecord{
		Type:      collection,
		Subject:   strongRef{URI: view.URI, CID: view.CID},
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
}

func (s *Service) actorRecord(collection, did string) actorRecord {
	return actorRecord{
		Type:      collection,
		Subject:   did,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
}

// stateFromView maps the AppView's counts and viewer refs to action state.
func stateFromView(stableID string, view postView) actions.PostActionState {
	state := actions.PostActionState{
		StableID:    stableID,
		LikeCount:   view.LikeCount,
		RepostCount: view.RepostCount,
		ReplyCount:  view.ReplyCount,
		QuoteCount:  view.QuoteCount,
	}
	if view.Viewer != nil {
		state.IsLiked = view.Viewer.Like != ""
		state.IsReposted = view.Viewer.Repost != ""
	}
	if v := view.Author.Viewer; v != nil {
		state.IsFollowingAuthor = v.Following != ""
		state.IsBlockedAuthor = v.Blocking != ""
		state.IsMutedAuthor = v.Muted
	}
	return state
}

// classify marks transient PDS failures as server downtime.
func classify(op string, err error) error {
	if pds.IsTransient(err) {
		return fmt.Errorf("bsky %s: %w: %w", op, actions.ErrServerUnavailable, err)
	}
	return fmt.Errorf("bsky %s: %w", op, err)
}

// feedItemToRaw converts a timeline item. A repost reason wraps the post in a
// repost by the reposting actor.
func feedItemToRaw(item feedViewPost) canonical.RawPost {
	original := viewToRaw(item.Post)

	reason := item.Reason
	if reason == nil || reason.Type != "app.bsky.feed.defs#reasonRepost" || reason.By == nil {
		return original
	}

	id := reason.URI
	if id == "" {
		id = "repost:" + reason.By.DID + ":" + item.Post.URI
	}
	return canonical.RawPost{
		Platform:  resolver.PlatformBluesky,
		ID:        id,
		Author:    authorFromProfile(*reason.By),
		CreatedAt: parseTime(reason.IndexedAt),
		RepostOf:  &original,
	}
}

func viewToRaw(view postView) canonical.RawPost {
	raw := canonical.RawPost{
		Platform:  resolver.PlatformBluesky,
		ID:        view.URI,
		CID:       view.CID,
		Author:    authorFromProfile(view.Author),
		CreatedAt: parseTime(view.IndexedAt),
		Viewer: &canonical.ViewerState{
			LikeCount:   view.LikeCount,
			RepostCount: view.RepostCount,
			ReplyCount:  view.ReplyCount,
			QuoteCount:  view.QuoteCount,
		},
	}
	if uri, err := syntax.ParseATURI(view.URI); err == nil {
		raw.URL = fmt.Sprintf("https://bsky.app/profile/%s/post/%s", uri.Authority(), uri.RecordKey())
	}
	if view.Viewer != nil {
		raw.Viewer.IsLiked = view.Viewer.Like != ""
		raw.Viewer.IsReposted = view.Viewer.Repost != ""
	}
	if v := view.Author.Viewer; v != nil {
		raw.Viewer.IsFollowingAuthor = v.Following != ""
		raw.Viewer.IsBlockedAuthor = v.Blocking != ""
		raw.Viewer.IsMutedAuthor = v.Muted
	}
	if rec := view.Record; rec != nil {
		raw.Text = rec.Text
		if t := parseTime(rec.CreatedAt); !t.IsZero() {
			raw.CreatedAt = t
		}
		if rec.Reply != nil {
			raw.ReplyToID = rec.Reply.Parent.URI
		}
		raw.QuoteOfID = rec.Embed.quotedURI()
	}
	return raw
}

func authorFromProfile(p profileViewBasic) canonical.Author {
	return canonical.Author{
		ID:          p.DID,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		AvatarURL:   p.Avatar,
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := syntax.ParseDatetimeLenient(s)
	if err != nil {
		return time.Time{}
	}
	return t.Time()
}

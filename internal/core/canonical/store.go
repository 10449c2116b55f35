// Package canonical merges posts and social events from heterogeneous sources
// into de-duplicated canonical posts, and keeps an ordered view per timeline.
//
// A Store is not safe for concurrent use. It is meant to be owned by a single
// execution context (see package serial).
package canonical

import (
	"log/slog"
	"sort"
	"time"
)

// Store owns every canonical post and every timeline entry.
type Store struct {
	resolver Resolver
	now      Clock
	logger   *slog.Logger

	posts     map[string]*CanonicalPost
	aliases   map[NativeKey]string
	timelines map[string]map[string]*TimelineEntry // timelineID -> canonicalID -> entry
	order     map[string][]string                  // timelineID -> canonical IDs, sorted

	policy SortPolicy
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithSortPolicy selects the sort-key policy for the lifetime of the store.
func WithSortPolicy(p SortPolicy) StoreOption {
	return func(s *Store) {
		s.policy = p
	}
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(c Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store backed by the given resolver.
func NewStore(resolver Resolver, opts ...StoreOption) *Store {
	if resolver == nil {
		panic("canonical: resolver cannot be nil")
	}

	s := &Store{
		resolver:  resolver,
		now:       time.Now,
		logger:    slog.Default(),
		posts:     make(map[string]*CanonicalPost),
		aliases:   make(map[NativeKey]string),
		timelines: make(map[string]map[string]*TimelineEntry),
		order:     make(map[string][]string),
		policy:    SortByCreatedAt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReplaceTimeline discards every entry of timelineID and ingests posts as a
// fresh snapshot. Canonical posts themselves are kept: other timelines may
// reference them and their aliases must stay stable.
func (s *Store) ReplaceTimeline(timelineID string, posts []RawPost, source SourceContext) []Touched {
	delete(s.timelines, timelineID)
	delete(s.order, timelineID)
	return s.ProcessIncomingPosts(posts, timelineID, source)
}

// ProcessIncomingPosts ingests a batch of raw posts into timelineID. Ingesting
// the same batch again is a no-op apart from refreshed timestamps. It returns
// the canonical posts the batch touched, in first-seen order.
func (s *Store) ProcessIncomingPosts(posts []RawPost, timelineID string, source SourceContext) []Touched {
	entries, ok := s.timelines[timelineID]
	if !ok {
		entries = make(map[string]*TimelineEntry)
		s.timelines[timelineID] = entries
	}

	now := s.now()
	touched := make([]Touched, 0, len(posts))
	seen := make(map[string]int, len(posts))
	bumped := make(map[string]struct{})
	for _, raw := range posts {
		cp, withViewer, reposted := s.ingest(raw, source)
		if cp == nil {
			continue
		}
		if i, dup := seen[cp.ID]; dup {
			touched[i].ViewerUpdated = touched[i].ViewerUpdated || withViewer
		} else {
			seen[cp.ID] = len(touched)
			touched = append(touched, Touched{CanonicalID: cp.ID, ViewerUpdated: withViewer})
		}
		if reposted {
			bumped[cp.ID] = struct{}{}
		}

		sortKey := s.sortKey(cp)
		if entry, exists := entries[cp.ID]; exists {
			entry.SortKey = sortKey
			entry.Source = source
			entry.UpdatedAt = now
			continue
		}
		entries[cp.ID] = &TimelineEntry{
			TimelineID:      timelineID,
			CanonicalPostID: cp.ID,
			SortKey:         sortKey,
			Source:          source,
			UpdatedAt:       now,
		}
	}

	s.resort(timelineID)
	s.rekeyElsewhere(timelineID, bumped)
	return touched
}

// rekeyElsewhere moves the entries of reposted posts in every other timeline
// to their new sort key. Only the bump policy depends on reposts.
func (s *Store) rekeyElsewhere(timelineID string, bumped map[string]struct{}) {
	if s.policy != SortBumpOnRepost || len(bumped) == 0 {
		return
	}
	for id, entries := range s.timelines {
		if id == timelineID {
			continue
		}
		changed := false
		for cid := range bumped {
			entry, ok := entries[cid]
			if !ok {
				continue
			}
			if key := s.sortKey(s.posts[cid]); !key.Equal(entry.SortKey) {
				entry.SortKey = key
				changed = true
			}
		}
		if changed {
			s.resort(id)
		}
	}
}

// ingest resolves one raw post and merges it into the post graph. It also
// reports whether the payload carried viewer state and whether a repost
// advanced the post's latest repost time.
func (s *Store) ingest(raw RawPost, source SourceContext) (cp *CanonicalPost, withViewer, reposted bool) {
	res := s.resolver.Resolve(raw, source)

	canonicalID := res.CanonicalID
	for _, key := range res.NativeKeys {
		if existing, ok := s.aliases[key]; ok {
			canonicalID = existing
			break
		}
	}
	if canonicalID == "" {
		s.logger.Warn("resolver returned no canonical identity, skipping post",
			"platform", raw.Platform,
			"native_id", raw.ID)
		return nil, false, false
	}

	cp, exists := s.posts[canonicalID]
	if !exists {
		cp = &CanonicalPost{
			ID:                   canonicalID,
			Post:                 res.Post,
			NativeKeys:           make(map[NativeKey]struct{}),
			CreatedAt:            res.Post.CreatedAt,
			LastSocialActivityAt: res.Post.CreatedAt,
			Social:               SocialContext{applied: make(map[string]struct{})},
		}
		cp.Post.BoostText = ""
		cp.Post.Viewer = cloneViewer(res.Post.Viewer)
		s.posts[canonicalID] = cp
	} else {
		mergePost(&cp.Post, res.Post)
		if cp.CreatedAt.IsZero() && !res.Post.CreatedAt.IsZero() {
			cp.CreatedAt = res.Post.CreatedAt
		}
		if cp.CreatedAt.After(cp.LastSocialActivityAt) {
			cp.LastSocialActivityAt = cp.CreatedAt
		}
	}

	for _, key := range res.NativeKeys {
		if _, mapped := s.aliases[key]; mapped {
			// Never reassign an alias, even if it points elsewhere.
			if s.aliases[key] == canonicalID {
				cp.NativeKeys[key] = struct{}{}
			}
			continue
		}
		s.aliases[key] = canonicalID
		cp.NativeKeys[key] = struct{}{}
	}

	lastRepost := cp.Social.LatestRepostAt
	for _, ev := range res.Events {
		applyEvent(cp, ev)
	}

	return cp, res.Post.Viewer != nil, cp.Social.LatestRepostAt.After(lastRepost)
}

// mergePost folds an incoming payload into the known one. Identity fields and
// content only move when the incoming value is present.
func mergePost(dst *RenderablePost, in RenderablePost) {
	if dst.StableID == "" {
		dst.StableID = in.StableID
	}
	if dst.Platform == "" {
		dst.Platform = in.Platform
	}
	if dst.NativeID == "" {
		dst.NativeID = in.NativeID
	}
	if in.CID != "" {
		dst.CID = in.CID
	}
	if in.URL != "" {
		dst.URL = in.URL
	}
	if in.Text != "" {
		dst.Text = in.Text
	}
	if dst.CreatedAt.IsZero() {
		dst.CreatedAt = in.CreatedAt
	}
	if in.ReplyParentID != "" {
		dst.ReplyParentID = in.ReplyParentID
	}
	if in.QuotedID != "" {
		dst.QuotedID = in.QuotedID
	}
	if in.Poll != nil {
		dst.Poll = in.Poll
	}
	mergeAuthor(&dst.Author, in.Author)

	if in.Viewer != nil {
		dst.Viewer = cloneViewer(in.Viewer)
	}
}

func cloneViewer(v *ViewerState) *ViewerState {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func mergeAuthor(dst *Author, in Author) {
	if in.ID != "" {
		dst.ID = in.ID
	}
	if in.Handle != "" {
		dst.Handle = in.Handle
	}
	if in.DisplayName != "" {
		dst.DisplayName = in.DisplayName
	}
	if in.AvatarURL != "" {
		dst.AvatarURL = in.AvatarURL
	}
}

// applyEvent applies ev to the post's social context at most once.
func applyEvent(cp *CanonicalPost, ev SocialEvent) {
	if ev.ID == "" || cp.Social.HasApplied(ev.ID) {
		return
	}
	if cp.Social.applied == nil {
		cp.Social.applied = make(map[string]struct{})
	}
	cp.Social.applied[ev.ID] = struct{}{}

	if ev.OccurredAt.After(cp.LastSocialActivityAt) {
		cp.LastSocialActivityAt = ev.OccurredAt
	}

	if ev.Kind != EventRepost {
		return
	}
	if ev.OccurredAt.After(cp.Social.LatestRepostAt) {
		cp.Social.LatestRepostAt = ev.OccurredAt
	}
	for _, a := range cp.Social.RepostActors {
		if a.ID == ev.Actor.ID {
			return
		}
	}
	cp.Social.RepostActors = append(cp.Social.RepostActors, ev.Actor)
}

func (s *Store) sortKey(cp *CanonicalPost) time.Time {
	key := cp.CreatedAt
	if s.policy == SortBumpOnRepost && cp.Social.LatestRepostAt.After(key) {
		key = cp.Social.LatestRepostAt
	}
	return key
}

// resort orders a timeline newest first, ties broken by canonical ID.
func (s *Store) resort(timelineID string) {
	entries := s.timelines[timelineID]
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if !a.SortKey.Equal(b.SortKey) {
			return a.SortKey.After(b.SortKey)
		}
		return a.CanonicalPostID < b.CanonicalPostID
	})
	s.order[timelineID] = ids
}

// TimelineEntriesForUI returns the ordered entries of a timeline tagged with
// their display kind.
func (s *Store) TimelineEntriesForUI(timelineID string) []UIEntry {
	ids := s.order[timelineID]
	entries := s.timelines[timelineID]
	out := make([]UIEntry, 0, len(ids))

	for _, id := range ids {
		cp, ok := s.posts[id]
		if !ok {
			continue
		}
		post := cp.Post
		post.BoostText = BoostSummary(cp.Social.RepostActors)

		ui := UIEntry{
			Entry: *entries[id],
			Post:  post,
			Kind:  EntryNormal,
		}
		switch {
		case len(cp.Social.RepostActors) > 0:
			ui.Kind = EntryBoost
			ui.BoostedBy = post.BoostText
		case post.ReplyParentID != "":
			ui.Kind = EntryReply
			ui.ParentID = post.ReplyParentID
		}
		out = append(out, ui)
	}
	return out
}

// TimelinePosts returns the ordered post payloads of a timeline with their
// boost summary attached.
func (s *Store) TimelinePosts(timelineID string) []RenderablePost {
	ids := s.order[timelineID]
	out := make([]RenderablePost, 0, len(ids))
	for _, id := range ids {
		cp, ok := s.posts[id]
		if !ok {
			continue
		}
		post := cp.Post
		post.BoostText = BoostSummary(cp.Social.RepostActors)
		out = append(out, post)
	}
	return out
}

// Post returns a copy of a canonical post.
func (s *Store) Post(canonicalID string) (CanonicalPost, bool) {
	cp, ok := s.posts[canonicalID]
	if !ok {
		return CanonicalPost{}, false
	}

	out := *cp
	out.NativeKeys = make(map[NativeKey]struct{}, len(cp.NativeKeys))
	for k := range cp.NativeKeys {
		out.NativeKeys[k] = struct{}{}
	}
	out.Social.RepostActors = append([]Author(nil), cp.Social.RepostActors...)
	out.Social.applied = make(map[string]struct{}, len(cp.Social.applied))
	for k := range cp.Social.applied {
		out.Social.applied[k] = struct{}{}
	}
	out.Post.BoostText = BoostSummary(cp.Social.RepostActors)
	return out, true
}

// CanonicalIDFor returns the canonical ID a native key is aliased to.
func (s *Store) CanonicalIDFor(key NativeKey) (string, bool) {
	id, ok := s.aliases[key]
	return id, ok
}

// Entry returns the timeline entry for a canonical post.
func (s *Store) Entry(timelineID, canonicalID string) (TimelineEntry, bool) {
	e, ok := s.timelines[timelineID][canonicalID]
	if !ok {
		return TimelineEntry{}, false
	}
	return *e, true
}

// Timelines lists the IDs of all known timelines, sorted.
func (s *Store) Timelines() []string {
	ids := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of canonical posts held.
func (s *Store) Len() int {
	return len(s.posts)
}

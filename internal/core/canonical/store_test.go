package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResolver resolves a raw post to "c-<platform>-<id>" of the original,
// aliasing both the wrapper and the original, and turns reposts into events.
// idOverride lets a test make the resolver propose a different identity.
type stubResolver struct {
	idOverride map[string]string
}

func (r *stubResolver) Resolve(raw RawPost, _ SourceContext) Resolution {
	original := raw
	var events []SocialEvent
	keys := []NativeKey{}

	if raw.RepostOf != nil {
		original = *raw.RepostOf
		keys = append(keys, NativeKey{Platform: raw.Platform, NativeID: raw.ID})
		events = append(events, SocialEvent{
			ID:         raw.Platform + "-" + raw.ID,
			Kind:       EventRepost,
			Actor:      raw.Author,
			OccurredAt: raw.CreatedAt,
		})
	}
	keys = append(keys, NativeKey{Platform: original.Platform, NativeID: original.ID})
	keys = append(keys, original.Aliases...)
	events = append(events, raw.Events...)

	id := "c-" + original.Platform + "-" + original.ID
	if o, ok := r.idOverride[original.ID]; ok {
		id = o
	}

	return Resolution{
		CanonicalID: id,
		NativeKeys:  keys,
		Events:      events,
		Post: RenderablePost{
			StableID:      original.Platform + ":" + original.ID,
			Platform:      original.Platform,
			NativeID:      original.ID,
			Author:        original.Author,
			Text:          original.Text,
			CreatedAt:     original.CreatedAt,
			ReplyParentID: original.ReplyToID,
			Poll:          original.Poll,
			Viewer:        original.Viewer,
		},
	}
}

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	home   = "home"
	source = SourceContext{AccountID: "acct-1", Platform: "bsky"}
	alice  = Author{ID: "did:plc:alice", Handle: "alice.test", DisplayName: "Alice"}
	bob    = Author{ID: "did:plc:bob", Handle: "bob"}
	carol  = Author{ID: "did:plc:carol", Handle: "carol"}
)

func post(platform, id string, at time.Time) RawPost {
	return RawPost{Platform: platform, ID: id, Author: alice, Text: "hello " + id, CreatedAt: at}
}

func repost(platform, id string, by Author, at time.Time, of RawPost) RawPost {
	return RawPost{Platform: platform, ID: id, Author: by, CreatedAt: at, RepostOf: &of}
}

func newTestStore(opts ...StoreOption) *Store {
	opts = append([]StoreOption{WithClock(func() time.Time { return t0.Add(time.Hour) })}, opts...)
	return NewStore(&stubResolver{}, opts...)
}

func TestStore_IdempotentIngestion(t *testing.T) {
	s := newTestStore()
	a := post("x", "1", t0)
	batch := []RawPost{
		a,
		post("x", "2", t0.Add(time.Minute)),
		repost("x", "r1", bob, t0.Add(2*time.Minute), a),
	}

	s.ProcessIncomingPosts(batch, home, source)
	firstCount := s.Len()
	firstEntries := s.TimelineEntriesForUI(home)
	cpA, ok := s.Post("c-x-1")
	require.True(t, ok)
	firstEvents := cpA.Social.AppliedCount()

	s.ProcessIncomingPosts(batch, home, source)

	assert.Equal(t, firstCount, s.Len())
	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.TimelineEntriesForUI(home), len(firstEntries))

	cpA, _ = s.Post("c-x-1")
	assert.Equal(t, firstEvents, cpA.Social.AppliedCount())
	assert.Len(t, cpA.Social.RepostActors, 1)
	assert.Len(t, cpA.NativeKeys, 2)
}

func TestStore_AliasStability(t *testing.T) {
	r := &stubResolver{idOverride: map[string]string{}}
	s := NewStore(r)

	s.ProcessIncomingPosts([]RawPost{post("x", "1", t0)}, home, source)
	key := NativeKey{Platform: "x", NativeID: "1"}
	id, ok := s.CanonicalIDFor(key)
	require.True(t, ok)
	require.Equal(t, "c-x-1", id)

	// The resolver no longer remembers and proposes a fresh identity.
	r.idOverride["1"] = "c-fresh"
	s.ProcessIncomingPosts([]RawPost{post("x", "1", t0)}, "other", source)

	id, _ = s.CanonicalIDFor(key)
	assert.Equal(t, "c-x-1", id)
	assert.Equal(t, 1, s.Len())
	entries := s.TimelineEntriesForUI("other")
	require.Len(t, entries, 1)
	assert.Equal(t, "c-x-1", entries[0].Entry.CanonicalPostID)
}

func TestStore_CrossPlatformAliasMergesIntoOnePost(t *testing.T) {
	s := newTestStore()

	bskyCopy := post("bsky", "at://did:plc:alice/app.bsky.feed.post/3k", t0)
	mastoCopy := post("mastodon", "109", t0)
	mastoCopy.Aliases = []NativeKey{{Platform: "bsky", NativeID: bskyCopy.ID}}

	s.ProcessIncomingPosts([]RawPost{bskyCopy}, home, source)
	s.ProcessIncomingPosts([]RawPost{mastoCopy}, home, source)

	assert.Equal(t, 1, s.Len())
	id, ok := s.CanonicalIDFor(NativeKey{Platform: "mastodon", NativeID: "109"})
	require.True(t, ok)
	assert.Equal(t, "c-bsky-"+bskyCopy.ID, id)
	assert.Len(t, s.TimelineEntriesForUI(home), 1)
}

func TestStore_EventIdempotenceAndMonotonicActivity(t *testing.T) {
	s := newTestStore()
	a := post("x", "1", t0)

	late := repost("x", "r-late", bob, t0.Add(10*time.Minute), a)
	s.ProcessIncomingPosts([]RawPost{late}, home, source)
	cp, _ := s.Post("c-x-1")
	require.Equal(t, t0.Add(10*time.Minute), cp.LastSocialActivityAt)

	// Same event id, different (earlier) time: must be ignored entirely.
	replay := late
	replay.CreatedAt = t0.Add(time.Minute)
	s.ProcessIncomingPosts([]RawPost{replay}, home, source)
	cp, _ = s.Post("c-x-1")
	assert.Len(t, cp.Social.RepostActors, 1)
	assert.Equal(t, t0.Add(10*time.Minute), cp.LastSocialActivityAt)

	// A new but older event must not move activity time backwards.
	early := repost("x", "r-early", carol, t0.Add(2*time.Minute), a)
	s.ProcessIncomingPosts([]RawPost{early}, home, source)
	cp, _ = s.Post("c-x-1")
	assert.Len(t, cp.Social.RepostActors, 2)
	assert.Equal(t, t0.Add(10*time.Minute), cp.LastSocialActivityAt)
}

func TestStore_SameActorRepostingTwiceCountsOnce(t *testing.T) {
	s := newTestStore()
	a := post("x", "1", t0)
	s.ProcessIncomingPosts([]RawPost{
		repost("x", "r1", bob, t0.Add(time.Minute), a),
		repost("x", "r2", bob, t0.Add(2*time.Minute), a),
	}, home, source)

	cp, _ := s.Post("c-x-1")
	assert.Len(t, cp.Social.RepostActors, 1)
	assert.Equal(t, 2, cp.Social.AppliedCount())
	assert.Equal(t, t0.Add(2*time.Minute), cp.Social.LatestRepostAt)
}

func TestStore_MergeKeepsPollWhenOmitted(t *testing.T) {
	s := newTestStore()
	withPoll := post("x", "1", t0)
	withPoll.Poll = &Poll{ID: "poll-1", Options: []PollOption{{Title: "yes"}, {Title: "no"}}}
	s.ProcessIncomingPosts([]RawPost{withPoll}, home, source)

	refetched := post("x", "1", t0)
	refetched.Text = "edited"
	s.ProcessIncomingPosts([]RawPost{refetched}, home, source)

	cp, _ := s.Post("c-x-1")
	require.NotNil(t, cp.Post.Poll)
	assert.Equal(t, "poll-1", cp.Post.Poll.ID)
	assert.Equal(t, "edited", cp.Post.Text)

	updated := post("x", "1", t0)
	updated.Poll = &Poll{ID: "poll-1", VotesCount: 7}
	s.ProcessIncomingPosts([]RawPost{updated}, home, source)
	cp, _ = s.Post("c-x-1")
	assert.Equal(t, 7, cp.Post.Poll.VotesCount)
}

func TestStore_RepostSubjectDoesNotEraseContent(t *testing.T) {
	s := newTestStore()
	full := post("x", "1", t0)
	full.Viewer = &ViewerState{LikeCount: 4, IsLiked: true}
	s.ProcessIncomingPosts([]RawPost{full}, home, source)

	// A bare reference to the same post (as a firehose repost carries).
	bare := RawPost{Platform: "x", ID: "1"}
	s.ProcessIncomingPosts([]RawPost{repost("x", "r1", bob, t0.Add(time.Minute), bare)}, home, source)

	cp, _ := s.Post("c-x-1")
	assert.Equal(t, "hello 1", cp.Post.Text)
	assert.Equal(t, alice.Handle, cp.Post.Author.Handle)
	require.NotNil(t, cp.Post.Viewer)
	assert.Equal(t, 4, cp.Post.Viewer.LikeCount)
	assert.Equal(t, t0, cp.CreatedAt)
}

func TestStore_ViewerlessPayloadKeepsViewer(t *testing.T) {
	s := newTestStore()
	full := post("x", "1", t0)
	full.Viewer = &ViewerState{LikeCount: 10, IsLiked: true, IsFollowingAuthor: true}
	touched := s.ProcessIncomingPosts([]RawPost{full}, home, source)
	require.Len(t, touched, 1)
	assert.True(t, touched[0].ViewerUpdated)

	edited := post("x", "1", t0)
	edited.Text = "edited on the firehose"
	touched = s.ProcessIncomingPosts([]RawPost{edited}, "firehose", source)
	require.Len(t, touched, 1)
	assert.False(t, touched[0].ViewerUpdated)

	cp, _ := s.Post("c-x-1")
	assert.Equal(t, "edited on the firehose", cp.Post.Text)
	require.NotNil(t, cp.Post.Viewer)
	assert.Equal(t, ViewerState{LikeCount: 10, IsLiked: true, IsFollowingAuthor: true}, *cp.Post.Viewer)
}

func TestStore_ViewerIsNotAliasedToInput(t *testing.T) {
	s := newTestStore()
	in := post("x", "1", t0)
	in.Viewer = &ViewerState{LikeCount: 1}
	s.ProcessIncomingPosts([]RawPost{in}, home, source)

	in.Viewer.LikeCount = 99
	cp, _ := s.Post("c-x-1")
	assert.Equal(t, 1, cp.Post.Viewer.LikeCount)
}

func TestStore_OrderingAndTieBreak(t *testing.T) {
	s := newTestStore()
	s.ProcessIncomingPosts([]RawPost{
		post("x", "b", t0),
		post("x", "old", t0.Add(-time.Hour)),
		post("x", "a", t0),
		post("x", "new", t0.Add(time.Hour)),
	}, home, source)

	var ids []string
	for _, e := range s.TimelineEntriesForUI(home) {
		ids = append(ids, e.Entry.CanonicalPostID)
	}
	assert.Equal(t, []string{"c-x-new", "c-x-a", "c-x-b", "c-x-old"}, ids)
}

func TestStore_SortPolicies(t *testing.T) {
	a := post("x", "1", t0)
	b := post("x", "2", t0.Add(5*time.Minute))
	boost := repost("x", "r1", bob, t0.Add(10*time.Minute), a)

	created := newTestStore(WithSortPolicy(SortByCreatedAt))
	created.ProcessIncomingPosts([]RawPost{a, b, boost}, home, source)
	posts := created.TimelinePosts(home)
	require.Len(t, posts, 2)
	assert.Equal(t, "2", posts[0].NativeID)

	bumped := newTestStore(WithSortPolicy(SortBumpOnRepost))
	bumped.ProcessIncomingPosts([]RawPost{a, b, boost}, home, source)
	posts = bumped.TimelinePosts(home)
	require.Len(t, posts, 2)
	assert.Equal(t, "1", posts[0].NativeID)
}

func TestStore_BumpOnRepostScenario(t *testing.T) {
	s := newTestStore(WithSortPolicy(SortBumpOnRepost))
	t1 := t0.Add(30 * time.Minute)

	a := RawPost{Platform: "platformX", ID: "1", Author: alice, Text: "A", CreatedAt: t0}
	s.ProcessIncomingPosts([]RawPost{
		a,
		repost("platformX", "boost-1", Author{ID: "bob", Handle: "bob"}, t1, a),
	}, home, source)

	id, ok := s.CanonicalIDFor(NativeKey{Platform: "platformX", NativeID: "1"})
	require.True(t, ok)
	entry, ok := s.Entry(home, id)
	require.True(t, ok)
	assert.Equal(t, t1, entry.SortKey)

	posts := s.TimelinePosts(home)
	require.Len(t, posts, 1)
	assert.Equal(t, "bob", posts[0].BoostText)
}

func TestStore_RepostRekeysOtherTimelines(t *testing.T) {
	s := newTestStore(WithSortPolicy(SortBumpOnRepost))
	a := post("x", "a", t0)
	b := post("x", "b", t0.Add(5*time.Minute))
	s.ProcessIncomingPosts([]RawPost{a, b}, home, source)

	t1 := t0.Add(time.Hour)
	s.ProcessIncomingPosts([]RawPost{repost("x", "r1", bob, t1, a)}, "other", source)

	entry, ok := s.Entry(home, "c-x-a")
	require.True(t, ok)
	assert.Equal(t, t1, entry.SortKey)

	posts := s.TimelinePosts(home)
	require.Len(t, posts, 2)
	assert.Equal(t, "a", posts[0].NativeID)
	assert.Equal(t, "b", posts[1].NativeID)
}

func TestStore_CreatedPolicyIgnoresRepostsElsewhere(t *testing.T) {
	s := newTestStore(WithSortPolicy(SortByCreatedAt))
	a := post("x", "a", t0)
	s.ProcessIncomingPosts([]RawPost{a, post("x", "b", t0.Add(5*time.Minute))}, home, source)
	s.ProcessIncomingPosts([]RawPost{repost("x", "r1", bob, t0.Add(time.Hour), a)}, "other", source)

	entry, _ := s.Entry(home, "c-x-a")
	assert.Equal(t, t0, entry.SortKey)
	assert.Equal(t, "b", s.TimelinePosts(home)[0].NativeID)
}

func TestStore_ReplaceTimeline(t *testing.T) {
	s := newTestStore()
	shared := post("x", "shared", t0)
	s.ProcessIncomingPosts([]RawPost{shared, post("x", "only-home", t0)}, home, source)
	s.ProcessIncomingPosts([]RawPost{shared}, "lists/friends", source)

	s.ReplaceTimeline(home, []RawPost{post("x", "fresh", t0)}, source)

	homeEntries := s.TimelineEntriesForUI(home)
	require.Len(t, homeEntries, 1)
	assert.Equal(t, "c-x-fresh", homeEntries[0].Entry.CanonicalPostID)

	friends := s.TimelineEntriesForUI("lists/friends")
	require.Len(t, friends, 1)
	assert.Equal(t, "c-x-shared", friends[0].Entry.CanonicalPostID)

	_, ok := s.Post("c-x-shared")
	assert.True(t, ok)
	assert.Equal(t, []string{home, "lists/friends"}, s.Timelines())
}

func TestStore_EntryKinds(t *testing.T) {
	s := newTestStore()
	plain := post("x", "plain", t0)
	reply := post("x", "reply", t0.Add(time.Minute))
	reply.ReplyToID = "x:parent"
	boosted := post("x", "boosted", t0.Add(2*time.Minute))
	boostedReply := post("x", "boosted-reply", t0.Add(3*time.Minute))
	boostedReply.ReplyToID = "x:parent"

	s.ProcessIncomingPosts([]RawPost{
		plain, reply,
		repost("x", "r1", bob, t0.Add(4*time.Minute), boosted),
		repost("x", "r2", carol, t0.Add(5*time.Minute), boostedReply),
	}, home, source)

	kinds := map[string]UIEntry{}
	for _, e := range s.TimelineEntriesForUI(home) {
		kinds[e.Post.NativeID] = e
	}

	assert.Equal(t, EntryNormal, kinds["plain"].Kind)
	assert.Equal(t, EntryReply, kinds["reply"].Kind)
	assert.Equal(t, "x:parent", kinds["reply"].ParentID)
	assert.Equal(t, EntryBoost, kinds["boosted"].Kind)
	assert.Equal(t, "bob", kinds["boosted"].BoostedBy)
	// boost wins over reply
	assert.Equal(t, EntryBoost, kinds["boosted-reply"].Kind)
	assert.Equal(t, "carol", kinds["boosted-reply"].BoostedBy)
}

func TestStore_SkipsUnresolvablePost(t *testing.T) {
	s := NewStore(&stubResolver{idOverride: map[string]string{"broken": ""}})
	s.ProcessIncomingPosts([]RawPost{post("x", "broken", t0), post("x", "ok", t0)}, home, source)

	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.TimelinePosts(home), 1)
}

func TestBoostSummary(t *testing.T) {
	dave := Author{ID: "d", DisplayName: "Dave"}
	noNames := Author{ID: "did:plc:anon"}

	tests := []struct {
		name   string
		actors []Author
		want   string
	}{
		{name: "none", actors: nil, want: ""},
		{name: "one", actors: []Author{bob}, want: "bob"},
		{name: "two", actors: []Author{bob, dave}, want: "bob and Dave"},
		{name: "many", actors: []Author{alice, bob, carol, dave}, want: "Alice and 3 others"},
		{name: "falls back to id", actors: []Author{noNames}, want: "did:plc:anon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BoostSummary(tt.actors))
		})
	}
}

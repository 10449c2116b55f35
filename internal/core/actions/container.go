package actions

import (
	"sort"
)

// Container holds the optimistic interaction state of every observed post and
// the author index used to keep relationship flags consistent across posts by
// the same author.
//
// A Container is not safe for concurrent use; it is owned by the coordinator's
// serial loop. Rendering reads it through the coordinator.
type Container struct {
	clock Clock

	states        map[string]PostActionState
	authorOf      map[string]string              // post key -> author key
	postsByAuthor map[string]map[string]struct{} // author key -> post keys

	pending  map[string]struct{}
	inflight map[string]struct{}
}

// NewContainer creates an empty container
func NewContainer(clock Clock) *Container {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Container{
		clock:         clock,
		states:        make(map[string]PostActionState),
		authorOf:      make(map[string]string),
		postsByAuthor: make(map[string]map[string]struct{}),
		pending:       make(map[string]struct{}),
		inflight:      make(map[string]struct{}),
	}
}

// State returns the current snapshot for key.
func (c *Container) State(key string) (PostActionState, bool) {
	s, ok := c.states[key]
	return s, ok
}

// EnsureState returns the state for post, creating it from the server-declared
// state on first observation. An existing state that is not mid-mutation is
// re-synced from the server fields: like/repost values are overwritten,
// reply/quote only move upward, relationship flags are overwritten and
// propagated to the author's other posts when they change.
func (c *Container) EnsureState(post Post) PostActionState {
	key := post.StableID
	c.index(key, post.AuthorKey())

	cur, ok := c.states[key]
	if !ok {
		s := post.Server
		s.StableID = key
		s.LastUpdatedAt = c.clock.Now()
		s.clampCounts()
		c.states[key] = s
		return s
	}

	if c.IsPending(key) || c.IsInflight(key) {
		return cur
	}

	before := cur.relationship()
	srv := post.Server

	cur.IsLiked = srv.IsLiked
	cur.LikeCount = srv.LikeCount
	cur.IsReposted = srv.IsReposted
	cur.RepostCount = srv.RepostCount
	mergeUpward(&cur, srv)
	cur.setRelationship(srv.relationship())
	cur.clampCounts()
	cur.LastUpdatedAt = c.clock.Now()
	c.states[key] = cur

	if cur.relationship() != before {
		c.propagate(key, cur.relationship())
	}
	return cur
}

// mergeUpward advances reply/quote counts and flags; they never regress.
func mergeUpward(dst *PostActionState, src PostActionState) {
	dst.ReplyCount = max(dst.ReplyCount, src.ReplyCount)
	dst.QuoteCount = max(dst.QuoteCount, src.QuoteCount)
	dst.IsReplied = dst.IsReplied || src.IsReplied
	dst.IsQuoted = dst.IsQuoted || src.IsQuoted
}

func (c *Container) index(key, authorKey string) {
	if authorKey == "" {
		return
	}
	if old, ok := c.authorOf[key]; ok {
		if old == authorKey {
			return
		}
		delete(c.postsByAuthor[old], key)
		if len(c.postsByAuthor[old]) == 0 {
			delete(c.postsByAuthor, old)
		}
	}
	c.authorOf[key] = authorKey
	if c.postsByAuthor[authorKey] == nil {
		c.postsByAuthor[authorKey] = make(map[string]struct{})
	}
	c.postsByAuthor[authorKey][key] = struct{}{}
}

// propagate copies relationship flags from key to every other tracked post by
// the same author.
func (c *Container) propagate(key string, rel relationship) {
	author, ok := c.authorOf[key]
	if !ok {
		return
	}
	now := c.clock.Now()
	for sibling := range c.postsByAuthor[author] {
		if sibling == key {
			continue
		}
		s, ok := c.states[sibling]
		if !ok || s.relationship() == rel {
			continue
		}
		s.setRelationship(rel)
		s.LastUpdatedAt = now
		c.states[sibling] = s
	}
}

// mutate applies fn to the state of key. fn reports whether it changed
// anything; a no-op leaves the snapshot untouched. The pre-mutation snapshot
// is returned either way.
func (c *Container) mutate(key string, fn func(s *PostActionState) bool) (PostActionState, bool) {
	cur, ok := c.states[key]
	if !ok {
		return PostActionState{}, false
	}
	prev := cur
	if !fn(&cur) {
		return prev, false
	}
	cur.clampCounts()
	cur.LastUpdatedAt = c.clock.Now()
	c.states[key] = cur
	return prev, true
}

// OptimisticLike marks key liked. It is a no-op if already liked.
func (c *Container) OptimisticLike(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		if s.IsLiked {
			return false
		}
		s.IsLiked = true
		s.LikeCount++
		return true
	})
}

// OptimisticUnlike clears the like on key. It is a no-op if not liked.
func (c *Container) OptimisticUnlike(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		if !s.IsLiked {
			return false
		}
		s.IsLiked = false
		s.LikeCount--
		return true
	})
}

// OptimisticRepost marks key reposted. It is a no-op if already reposted.
func (c *Container) OptimisticRepost(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		if s.IsReposted {
			return false
		}
		s.IsReposted = true
		s.RepostCount++
		return true
	})
}

// OptimisticUnrepost clears the repost on key. It is a no-op if not reposted.
func (c *Container) OptimisticUnrepost(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		if !s.IsReposted {
			return false
		}
		s.IsReposted = false
		s.RepostCount--
		return true
	})
}

// RegisterLocalReply records a reply the user already posted.
func (c *Container) RegisterLocalReply(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		s.IsReplied = true
		s.ReplyCount++
		return true
	})
}

// RegisterLocalQuote records a quote the user already posted.
func (c *Container) RegisterLocalQuote(key string) (PostActionState, bool) {
	return c.mutate(key, func(s *PostActionState) bool {
		s.IsQuoted = true
		s.QuoteCount++
		return true
	})
}

// OptimisticFollow sets the follow flag and propagates it to the author's
// other posts.
func (c *Container) OptimisticFollow(key string, value bool) (PostActionState, bool) {
	return c.setRelationshipFlag(key, func(r *relationship) { r.following = value })
}

// OptimisticMute sets the mute flag and propagates it.
func (c *Container) OptimisticMute(key string, value bool) (PostActionState, bool) {
	return c.setRelationshipFlag(key, func(r *relationship) { r.muted = value })
}

// OptimisticBlock sets the block flag and propagates it.
func (c *Container) OptimisticBlock(key string, value bool) (PostActionState, bool) {
	return c.setRelationshipFlag(key, func(r *relationship) { r.blocked = value })
}

func (c *Container) setRelationshipFlag(key string, set func(r *relationship)) (PostActionState, bool) {
	prev, ok := c.states[key]
	if !ok {
		return PostActionState{}, false
	}
	rel := prev.relationship()
	set(&rel)

	cur := prev
	cur.setRelationship(rel)
	cur.LastUpdatedAt = c.clock.Now()
	c.states[key] = cur
	c.propagate(key, rel)
	return prev, true
}

// Reconcile merges authoritative server state for server.StableID. Like and
// repost values are replaced, reply/quote only move upward, relationship flags
// are replaced and propagated if they changed. Pending and inflight markers for
// the key are cleared.
func (c *Container) Reconcile(server PostActionState) PostActionState {
	key := server.StableID
	defer c.clearMarkers(key)

	cur, ok := c.states[key]
	if !ok {
		server.LastUpdatedAt = c.clock.Now()
		server.clampCounts()
		c.states[key] = server
		return server
	}

	before := cur.relationship()
	cur.IsLiked = server.IsLiked
	cur.LikeCount = server.LikeCount
	cur.IsReposted = server.IsReposted
	cur.RepostCount = server.RepostCount
	mergeUpward(&cur, server)
	cur.setRelationship(server.relationship())
	cur.clampCounts()
	cur.LastUpdatedAt = c.clock.Now()
	c.states[key] = cur

	if cur.relationship() != before {
		c.propagate(key, cur.relationship())
	}
	return cur
}

// Revert restores snapshot unconditionally. If that changes the relationship
// flags, the author's other posts are restored too, so a failed follow does
// not leave siblings showing the speculative value.
func (c *Container) Revert(snapshot PostActionState) PostActionState {
	key := snapshot.StableID
	before, existed := c.states[key]

	snapshot.LastUpdatedAt = c.clock.Now()
	c.states[key] = snapshot

	if existed && before.relationship() != snapshot.relationship() {
		c.propagate(key, snapshot.relationship())
	}
	return snapshot
}

// RevertIntent rolls back only what a failed intent changed: the like or
// repost fields for toggles, the targeted flag for follow, mute and block.
// Other fields keep their current values, so a relationship that succeeded
// through another post meanwhile is not undone. A reverted relationship flag
// is propagated to the author's other posts.
func (c *Container) RevertIntent(kind IntentKind, snapshot PostActionState) PostActionState {
	key := snapshot.StableID
	cur, ok := c.states[key]
	if !ok {
		return c.Revert(snapshot)
	}
	if !kind.touches(cur, snapshot) {
		return cur
	}

	before := cur.relationship()
	kind.restore(&cur, snapshot)
	cur.clampCounts()
	cur.LastUpdatedAt = c.clock.Now()
	c.states[key] = cur

	if cur.relationship() != before {
		c.propagate(key, cur.relationship())
	}
	return cur
}

// PostsByAuthor lists the tracked post keys of an author, sorted.
func (c *Container) PostsByAuthor(authorKey string) []string {
	return sortedKeys(c.postsByAuthor[authorKey])
}

// AuthorOf returns the author key indexed for a post.
func (c *Container) AuthorOf(key string) (string, bool) {
	a, ok := c.authorOf[key]
	return a, ok
}

func (c *Container) MarkPending(key string)   { c.pending[key] = struct{}{} }
func (c *Container) ClearPending(key string)  { delete(c.pending, key) }
func (c *Container) MarkInflight(key string)  { c.inflight[key] = struct{}{} }
func (c *Container) ClearInflight(key string) { delete(c.inflight, key) }

func (c *Container) IsPending(key string) bool {
	_, ok := c.pending[key]
	return ok
}

func (c *Container) IsInflight(key string) bool {
	_, ok := c.inflight[key]
	return ok
}

func (c *Container) PendingKeys() []string  { return sortedKeys(c.pending) }
func (c *Container) InflightKeys() []string { return sortedKeys(c.inflight) }

func (c *Container) clearMarkers(key string) {
	delete(c.pending, key)
	delete(c.inflight, key)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

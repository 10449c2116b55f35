package actions

import (
	"fmt"
	"time"
)

// Post is what the action layer needs to know about a target post. Server is
// the interaction state the backend declared when the post was fetched.
type Post struct {
	StableID string          `json:"stableId"`
	Platform string          `json:"platform"`
	NativeID string          `json:"nativeId"`
	CID      string          `json:"cid,omitempty"`
	AuthorID string          `json:"authorId"`
	Server   PostActionState `json:"server"`
}

// AuthorKey scopes an author id to its platform.
func (p Post) AuthorKey() string {
	if p.AuthorID == "" {
		return ""
	}
	return p.Platform + "|" + p.AuthorID
}

// PostActionState is the optimistic interaction snapshot for one post, keyed by
// StableID. Counts are never negative.
type PostActionState struct {
	LastUpdatedAt     time.Time `json:"lastUpdatedAt"`
	StableID          string    `json:"stableId"`
	LikeCount         int       `json:"likeCount"`
	RepostCount       int       `json:"repostCount"`
	ReplyCount        int       `json:"replyCount"`
	QuoteCount        int       `json:"quoteCount"`
	IsLiked           bool      `json:"isLiked"`
	IsReposted        bool      `json:"isReposted"`
	IsReplied         bool      `json:"isReplied"`
	IsQuoted          bool      `json:"isQuoted"`
	IsFollowingAuthor bool      `json:"isFollowingAuthor"`
	IsMutedAuthor     bool      `json:"isMutedAuthor"`
	IsBlockedAuthor   bool      `json:"isBlockedAuthor"`
}

type relationship struct {
	following, muted, blocked bool
}

func (s PostActionState) relationship() relationship {
	return relationship{
		following: s.IsFollowingAuthor,
		muted:     s.IsMutedAuthor,
		blocked:   s.IsBlockedAuthor,
	}
}

func (s *PostActionState) setRelationship(r relationship) {
	s.IsFollowingAuthor = r.following
	s.IsMutedAuthor = r.muted
	s.IsBlockedAuthor = r.blocked
}

func (s *PostActionState) clampCounts() {
	s.LikeCount = max(s.LikeCount, 0)
	s.RepostCount = max(s.RepostCount, 0)
	s.ReplyCount = max(s.ReplyCount, 0)
	s.QuoteCount = max(s.QuoteCount, 0)
}

// IntentKind enumerates the mutations a user can request
type IntentKind int

const (
	IntentLike IntentKind = iota + 1
	IntentUnlike
	IntentRepost
	IntentUnrepost
	IntentFollow
	IntentMute
	IntentBlock
	IntentRefresh
)

func (k IntentKind) String() string {
	switch k {
	case IntentLike:
		return "like"
	case IntentUnlike:
		return "unlike"
	case IntentRepost:
		return "repost"
	case IntentUnrepost:
		return "unrepost"
	case IntentFollow:
		return "follow"
	case IntentMute:
		return "mute"
	case IntentBlock:
		return "block"
	case IntentRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("intent(%d)", int(k))
	}
}

// restore copies the fields k mutates from src into dst.
func (k IntentKind) restore(dst *PostActionState, src PostActionState) {
	switch k {
	case IntentLike, IntentUnlike:
		dst.IsLiked = src.IsLiked
		dst.LikeCount = src.LikeCount
	case IntentRepost, IntentUnrepost:
		dst.IsReposted = src.IsReposted
		dst.RepostCount = src.RepostCount
	case IntentFollow:
		dst.IsFollowingAuthor = src.IsFollowingAuthor
	case IntentMute:
		dst.IsMutedAuthor = src.IsMutedAuthor
	case IntentBlock:
		dst.IsBlockedAuthor = src.IsBlockedAuthor
	}
}

// touches reports whether a and b differ in the fields k mutates.
func (k IntentKind) touches(a, b PostActionState) bool {
	restored := a
	k.restore(&restored, b)
	return restored != a
}

// field groups kinds that mutate the same fields.
func (k IntentKind) field() IntentKind {
	switch k {
	case IntentUnlike:
		return IntentLike
	case IntentUnrepost:
		return IntentRepost
	default:
		return k
	}
}

// Intent is a requested mutation. Value is the desired flag for follow, mute
// and block; it is ignored for the other kinds.
type Intent struct {
	Kind  IntentKind `json:"kind"`
	Value bool       `json:"value,omitempty"`
}

func (i Intent) String() string {
	switch i.Kind {
	case IntentFollow, IntentMute, IntentBlock:
		return fmt.Sprintf("%s=%t", i.Kind, i.Value)
	default:
		return i.Kind.String()
	}
}

// PendingAction is an in-flight or queued mutation. Previous is the snapshot
// restored if the request fails.
type PendingAction struct {
	CreatedAt time.Time       `json:"createdAt"`
	Post      Post            `json:"post"`
	Previous  PostActionState `json:"previous"`
	Intent    Intent          `json:"intent"`
}

// Clock is the time source used for debouncing and staleness.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

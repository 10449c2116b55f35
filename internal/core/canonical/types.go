package canonical

import (
	"time"
)

// NativeKey is a (platform, platform-local id) pair. It is the join key between
// raw ingestion and canonical identity.
type NativeKey struct {
	Platform string `json:"platform"`
	NativeID string `json:"nativeId"`
}

func (k NativeKey) String() string {
	return k.Platform + ":" + k.NativeID
}

// Author identifies the account that wrote a post or performed a social action.
type Author struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Label is the human-readable name used in boost summaries.
func (a Author) Label() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Handle != "":
		return a.Handle
	default:
		return a.ID
	}
}

// PollOption is a single choice of a poll
type PollOption struct {
	Title      string `json:"title"`
	VotesCount int    `json:"votesCount"`
}

// Poll is attached poll data. Platforms often omit it on re-fetch, so it is only
// ever replaced by a non-nil value.
type Poll struct {
	ExpiresAt  *time.Time   `json:"expiresAt,omitempty"`
	ID         string       `json:"id"`
	Options    []PollOption `json:"options"`
	VotesCount int          `json:"votesCount"`
	Voted      bool         `json:"voted"`
}

// ViewerState is the interaction state the server declared for the viewing
// account when the post was fetched. Payloads that carry none (firehose
// records, bare references) leave it nil.
type ViewerState struct {
	LikeCount         int  `json:"likeCount"`
	RepostCount       int  `json:"repostCount"`
	ReplyCount        int  `json:"replyCount"`
	QuoteCount        int  `json:"quoteCount"`
	IsLiked           bool `json:"isLiked"`
	IsReposted        bool `json:"isReposted"`
	IsReplied         bool `json:"isReplied"`
	IsQuoted          bool `json:"isQuoted"`
	IsFollowingAuthor bool `json:"isFollowingAuthor"`
	IsMutedAuthor     bool `json:"isMutedAuthor"`
	IsBlockedAuthor   bool `json:"isBlockedAuthor"`
}

// RenderablePost is the content payload of a canonical post.
type RenderablePost struct {
	CreatedAt     time.Time    `json:"createdAt"`
	Poll          *Poll        `json:"poll,omitempty"`
	Author        Author       `json:"author"`
	StableID      string       `json:"stableId"`
	Platform      string       `json:"platform"`
	NativeID      string       `json:"nativeId"`
	CID           string       `json:"cid,omitempty"`
	URL           string       `json:"url,omitempty"`
	Text          string       `json:"text"`
	ReplyParentID string       `json:"replyParentId,omitempty"`
	QuotedID      string       `json:"quotedId,omitempty"`
	BoostText     string       `json:"boostText,omitempty"` // computed on read, never stored
	Viewer        *ViewerState `json:"viewer,omitempty"`
}

// EventKind classifies a SocialEvent
type EventKind string

const (
	EventRepost EventKind = "repost"
	EventQuote  EventKind = "quote"
)

// SocialEvent is a discrete social action observed on a post. ID is globally
// unique and makes application idempotent.
type SocialEvent struct {
	OccurredAt time.Time `json:"occurredAt"`
	Actor      Author    `json:"actor"`
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
}

// SocialContext is the social activity accumulated on a canonical post.
type SocialContext struct {
	LatestRepostAt time.Time `json:"latestRepostAt"`
	RepostActors   []Author  `json:"repostActors,omitempty"`

	applied map[string]struct{}
}

// HasApplied reports whether the event with the given id was already applied.
func (s *SocialContext) HasApplied(eventID string) bool {
	_, ok := s.applied[eventID]
	return ok
}

// AppliedCount is the number of distinct events applied so far.
func (s *SocialContext) AppliedCount() int {
	return len(s.applied)
}

// CanonicalPost is the single de-duplicated representation of a logical post.
type CanonicalPost struct {
	CreatedAt            time.Time
	LastSocialActivityAt time.Time
	NativeKeys           map[NativeKey]struct{}
	ID                   string
	Social               SocialContext
	Post                 RenderablePost
}

// SourceContext describes which account and request produced a timeline entry.
type SourceContext struct {
	AccountID string `json:"accountId"`
	Platform  string `json:"platform"`
	RequestID string `json:"requestId,omitempty"`
}

// TimelineEntry binds a canonical post into one timeline's ordering.
// (TimelineID, CanonicalPostID) is unique.
type TimelineEntry struct {
	SortKey         time.Time     `json:"sortKey"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Source          SourceContext `json:"source"`
	TimelineID      string        `json:"timelineId"`
	CanonicalPostID string        `json:"canonicalPostId"`
}

// EntryKind is the display kind of a timeline entry
type EntryKind string

const (
	EntryNormal EntryKind = "normal"
	EntryBoost  EntryKind = "boost"
	EntryReply  EntryKind = "reply"
)

// UIEntry is a timeline entry joined with its post and display kind.
type UIEntry struct {
	Entry     TimelineEntry  `json:"entry"`
	Post      RenderablePost `json:"post"`
	Kind      EntryKind      `json:"kind"`
	BoostedBy string         `json:"boostedBy,omitempty"` // set when Kind == EntryBoost
	ParentID  string         `json:"parentId,omitempty"`  // set when Kind == EntryReply
}

// RawPost is a post as fetched from one backend, before canonicalization.
// A repost/boost wraps the original in RepostOf.
type RawPost struct {
	CreatedAt time.Time     `json:"createdAt"`
	RepostOf  *RawPost      `json:"repostOf,omitempty"`
	Poll      *Poll         `json:"poll,omitempty"`
	Author    Author        `json:"author"`
	Platform  string        `json:"platform"`
	ID        string        `json:"id"`
	CID       string        `json:"cid,omitempty"`
	URL       string        `json:"url,omitempty"`
	Text      string        `json:"text,omitempty"`
	ReplyToID string        `json:"replyToId,omitempty"`
	QuoteOfID string        `json:"quoteOfId,omitempty"`
	Aliases   []NativeKey   `json:"aliases,omitempty"`
	Events    []SocialEvent `json:"events,omitempty"`
	Viewer    *ViewerState  `json:"viewer,omitempty"`
}

// Touched is one canonical post an ingestion batch wrote to. ViewerUpdated is
// set when at least one payload for it carried viewer state.
type Touched struct {
	CanonicalID   string
	ViewerUpdated bool
}

// Resolution is the resolver's verdict for one raw post.
type Resolution struct {
	Post        RenderablePost
	CanonicalID string
	NativeKeys  []NativeKey
	Events      []SocialEvent
}

package bsky

// Collections and methods used for post interactions.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
	CollectionBlock  = "app.bsky.graph.block"

	methodGetPosts     = "app.bsky.feed.getPosts"
	methodMuteActor    = "app.bsky.graph.muteActor"
	methodUnmuteActor  = "app.bsky.graph.unmuteActor"
	methodGetTimeline  = "app.bsky.feed.getTimeline"
	defaultTimelineMax = 50
)

// postView holds the subset of app.bsky.feed.defs#postView read here.
type postView struct {
	Author      profileViewBasic `json:"author"`
	Viewer      *postViewerState `json:"viewer,omitempty"`
	Record      *postRecord      `json:"record,omitempty"`
	URI         string           `json:"uri"`
	CID         string           `json:"cid"`
	IndexedAt   string           `json:"indexedAt"`
	LikeCount   int              `json:"likeCount"`
	RepostCount int              `json:"repostCount"`
	ReplyCount  int              `json:"replyCount"`
	QuoteCount  int              `json:"quoteCount"`
}

type postViewerState struct {
	Like   string `json:"like,omitempty"`
	Repost string `json:"repost,omitempty"`
}

type profileViewBasic struct {
	Viewer      *actorViewerState `json:"viewer,omitempty"`
	DID         string            `json:"did"`
	Handle      string            `json:"handle"`
	DisplayName string            `json:"displayName,omitempty"`
	Avatar      string            `json:"avatar,omitempty"`
}

type actorViewerState struct {
	Blocking  string `json:"blocking,omitempty"`
	Following string `json:"following,omitempty"`
	Muted     bool   `json:"muted,omitempty"`
}

// postRecord is the subset of an app.bsky.feed.post record read here.
type postRecord struct {
	Reply     *replyRef `json:"reply,omitempty"`
	Embed     *embed    `json:"embed,omitempty"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

// embed covers app.bsky.embed.record and the record half of recordWithMedia.
type embed struct {
	Record *embedRecord `json:"record,omitempty"`
	Type   string       `json:"$type"`
}

type embedRecord struct {
	Record *strongRef `json:"record,omitempty"`
	URI    string     `json:"uri,omitempty"`
	CID    string     `json:"cid,omitempty"`
}

// quotedURI returns the post a record quotes, if any.
func (e *embed) quotedURI() string {
	if e == nil || e.Record == nil {
		return ""
	}
	if e.Record.URI != "" {
		return e.Record.URI
	}
	if e.Record.Record != nil {
		return e.Record.Record.URI
	}
	return ""
}

type getPostsOutput struct {
	Posts []postView `json:"posts"`
}

// feedViewPost is an entry of app.bsky.feed.getTimeline.
type feedViewPost struct {
	Post   postView    `json:"post"`
	Reason *feedReason `json:"reason,omitempty"`
}

type feedReason struct {
	By        *profileViewBasic `json:"by,omitempty"`
	Type      string            `json:"$type"`
	URI       string            `json:"uri,omitempty"`
	IndexedAt string            `json:"indexedAt"`
}

type getTimelineOutput struct {
	Cursor string         `json:"cursor,omitempty"`
	Feed   []feedViewPost `json:"feed"`
}

// subjectRecord is the shape of like and repost records.
type subjectRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// actorRecord is the shape of follow and block records.
type actorRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

package jetstream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	lru "github.com/hashicorp/golang-lru/v2"

	"Skein/internal/core/canonical"
	"Skein/internal/core/resolver"
)

const (
	collectionPost   = "app.bsky.feed.post"
	collectionRepost = "app.bsky.feed.repost"

	// Commits replayed after a reconnect are dropped before reaching the loop.
	seenCommitsSize = 4096
)

// Ingester is the part of the feed service the consumer writes to.
type Ingester interface {
	Ingest(timelineID string, posts []canonical.RawPost, source canonical.SourceContext) error
	Known(key canonical.NativeKey) (bool, error)
}

// TimelineConsumer turns post and repost creations from the firehose into raw
// posts for one timeline. Reposts are only applied to posts already in the
// store: a bare repost carries no content to render.
type TimelineConsumer struct {
	feed       Ingester
	logger     *slog.Logger
	seen       *lru.Cache[string, struct{}]
	timelineID string
}

// NewTimelineConsumer creates a consumer writing into timelineID
func NewTimelineConsumer(feed Ingester, timelineID string, logger *slog.Logger) *TimelineConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](seenCommitsSize)
	if err != nil {
		// Only fails for a non-positive size
		logger.Error("failed to create commit cache", "error", err)
		seen, _ = lru.New[string, struct{}](1)
	}
	return &TimelineConsumer{
		feed:       feed,
		logger:     logger,
		seen:       seen,
		timelineID: timelineID,
	}
}

// HandleEvent processes a Jetstream event
func (c *TimelineConsumer) HandleEvent(ctx context.Context, event *JetstreamEvent) error {
	if event.Kind != "commit" || event.Commit == nil || event.Commit.Operation != "create" {
		return nil
	}

	commit := event.Commit
	commitKey := event.Did + "/" + commit.Collection + "/" + commit.RKey + "@" + commit.CID
	if c.seen.Contains(commitKey) {
		return nil
	}

	var (
		ingested bool
		err      error
	)
	switch commit.Collection {
	case collectionPost:
		ingested, err = c.handlePost(event.Did, commit)
	case collectionRepost:
		ingested, err = c.handleRepost(event.Did, commit)
	default:
		return nil
	}
	if ingested {
		c.seen.Add(commitKey, struct{}{})
	}
	return err
}

func (c *TimelineConsumer) handlePost(repoDID string, commit *CommitEvent) (bool, error) {
	if commit.Record == nil {
		return false, fmt.Errorf("post create event missing record data")
	}

	// Records carry no viewer state, so Viewer stays nil and known counts
	// and flags survive the merge.
	raw := canonical.RawPost{
		Platform:  resolver.PlatformBluesky,
		ID:        fmt.Sprintf("at://%s/%s/%s", repoDID, collectionPost, commit.RKey),
		CID:       commit.CID,
		Author:    canonical.Author{ID: repoDID},
		Text:      stringField(commit.Record, "text"),
		CreatedAt: c.recordTime(commit.Record),
	}
	if reply, ok := commit.Record["reply"].(map[string]any); ok {
		if parent, ok := reply["parent"].(map[string]any); ok {
			raw.ReplyToID = stringField(parent, "uri")
		}
	}
	raw.QuoteOfID = quotedURI(commit.Record)

	return c.ingest(raw)
}

func (c *TimelineConsumer) handleRepost(repoDID string, commit *CommitEvent) (bool, error) {
	if commit.Record == nil {
		return false, fmt.Errorf("repost create event missing record data")
	}

	subject, ok := commit.Record["subject"].(map[string]any)
	if !ok {
		return false, fmt.Errorf("repost record missing subject")
	}
	subjectURI := stringField(subject, "uri")
	if _, err := syntax.ParseATURI(subjectURI); err != nil {
		return false, fmt.Errorf("invalid repost subject %q: %w", subjectURI, err)
	}

	key := canonical.NativeKey{
		Platform: resolver.PlatformBluesky,
		NativeID: resolver.NormalizeNativeID(resolver.PlatformBluesky, subjectURI),
	}
	known, err := c.feed.Known(key)
	if err != nil {
		return false, err
	}
	if !known {
		return false, nil
	}

	return c.ingest(canonical.RawPost{
		Platform:  resolver.PlatformBluesky,
		ID:        fmt.Sprintf("at://%s/%s/%s", repoDID, collectionRepost, commit.RKey),
		CID:       commit.CID,
		Author:    canonical.Author{ID: repoDID},
		CreatedAt: c.recordTime(commit.Record),
		RepostOf: &canonical.RawPost{
			Platform: resolver.PlatformBluesky,
			ID:       subjectURI,
			CID:      stringField(subject, "cid"),
		},
	})
}

func (c *TimelineConsumer) ingest(raw canonical.RawPost) (bool, error) {
	source := canonical.SourceContext{Platform: resolver.PlatformBluesky, RequestID: "jetstream"}
	if err := c.feed.Ingest(c.timelineID, []canonical.RawPost{raw}, source); err != nil {
		return false, fmt.Errorf("failed to ingest %s: %w", raw.ID, err)
	}
	return true, nil
}

func (c *TimelineConsumer) recordTime(record map[string]any) time.Time {
	createdAt := stringField(record, "createdAt")
	t, err := syntax.ParseDatetimeLenient(createdAt)
	if err != nil {
		c.logger.Debug("invalid record createdAt, using current time", "created_at", createdAt)
		return time.Now().UTC()
	}
	return t.Time()
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// quotedURI reads the quoted post from an app.bsky.embed.record or
// app.bsky.embed.recordWithMedia embed.
func quotedURI(record map[string]any) string {
	embed, ok := record["embed"].(map[string]any)
	if !ok {
		return ""
	}
	rec, ok := embed["record"].(map[string]any)
	if !ok {
		return ""
	}
	if uri := stringField(rec, "uri"); uri != "" {
		return uri
	}
	if inner, ok := rec["record"].(map[string]any); ok {
		return stringField(inner, "uri")
	}
	return ""
}

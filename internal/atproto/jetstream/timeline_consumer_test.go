package jetstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Skein/internal/core/canonical"
)

type mockIngester struct {
	mu       sync.Mutex
	known    map[canonical.NativeKey]bool
	ingested []canonical.RawPost
	timeline []string
}

func newMockIngester() *mockIngester {
	return &mockIngester{known: make(map[canonical.NativeKey]bool)}
}

func (m *mockIngester) Ingest(timelineID string, posts []canonical.RawPost, _ canonical.SourceContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = append(m.timeline, timelineID)
	m.ingested = append(m.ingested, posts...)
	return nil
}

func (m *mockIngester) Known(key canonical.NativeKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[key], nil
}

func (m *mockIngester) posts() []canonical.RawPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]canonical.RawPost(nil), m.ingested...)
}

func postEvent() *JetstreamEvent {
	return &JetstreamEvent{
		Did:  "did:plc:alice",
		Kind: "commit",
		Commit: &CommitEvent{
			Operation:  "create",
			Collection: "app.bsky.feed.post",
			RKey:       "3kpost",
			CID:        "bafypost",
			Record: map[string]any{
				"$type":     "app.bsky.feed.post",
				"text":      "hello firehose",
				"createdAt": "2025-06-01T12:00:00Z",
				"reply": map[string]any{
					"parent": map[string]any{"uri": "at://did:plc:bob/app.bsky.feed.post/3parent"},
				},
				"embed": map[string]any{
					"$type":  "app.bsky.embed.recordWithMedia",
					"record": map[string]any{"record": map[string]any{"uri": "at://did:plc:carol/app.bsky.feed.post/3q"}},
				},
			},
		},
	}
}

func TestTimelineConsumer_IngestsPosts(t *testing.T) {
	ing := newMockIngester()
	c := NewTimelineConsumer(ing, "firehose", nil)

	require.NoError(t, c.HandleEvent(context.Background(), postEvent()))

	posts := ing.posts()
	require.Len(t, posts, 1)
	p := posts[0]
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kpost", p.ID)
	assert.Equal(t, "bsky", p.Platform)
	assert.Equal(t, "did:plc:alice", p.Author.ID)
	assert.Equal(t, "hello firehose", p.Text)
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/3parent", p.ReplyToID)
	assert.Equal(t, "at://did:plc:carol/app.bsky.feed.post/3q", p.QuoteOfID)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), p.CreatedAt.UTC())
	assert.Nil(t, p.Viewer, "firehose records carry no viewer state")
	assert.Equal(t, []string{"firehose"}, ing.timeline)
}

func TestTimelineConsumer_RepostOnlyForKnownPosts(t *testing.T) {
	ing := newMockIngester()
	c := NewTimelineConsumer(ing, "firehose", nil)
	subject := "at://did:plc:alice/app.bsky.feed.post/3kpost"

	repost := &JetstreamEvent{
		Did:  "did:plc:bob",
		Kind: "commit",
		Commit: &CommitEvent{
			Operation:  "create",
			Collection: "app.bsky.feed.repost",
			RKey:       "3rp",
			Record: map[string]any{
				"subject":   map[string]any{"uri": subject, "cid": "bafypost"},
				"createdAt": "2025-06-01T13:00:00Z",
			},
		},
	}

	require.NoError(t, c.HandleEvent(context.Background(), repost))
	assert.Empty(t, ing.posts(), "unknown subject is skipped")

	ing.known[canonical.NativeKey{Platform: "bsky", NativeID: subject}] = true
	require.NoError(t, c.HandleEvent(context.Background(), repost))

	posts := ing.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.repost/3rp", posts[0].ID)
	require.NotNil(t, posts[0].RepostOf)
	assert.Equal(t, subject, posts[0].RepostOf.ID)
}

func TestTimelineConsumer_IgnoresOtherEvents(t *testing.T) {
	ing := newMockIngester()
	c := NewTimelineConsumer(ing, "firehose", nil)

	del := postEvent()
	del.Commit.Operation = "delete"
	like := postEvent()
	like.Commit.Collection = "app.bsky.feed.like"

	for _, ev := range []*JetstreamEvent{del, like, {Kind: "identity"}} {
		require.NoError(t, c.HandleEvent(context.Background(), ev))
	}
	assert.Empty(t, ing.posts())
}

func TestTimelineConsumer_RejectsMalformedRepost(t *testing.T) {
	c := NewTimelineConsumer(newMockIngester(), "firehose", nil)
	ev := &JetstreamEvent{
		Kind: "commit",
		Did:  "did:plc:bob",
		Commit: &CommitEvent{
			Operation:  "create",
			Collection: "app.bsky.feed.repost",
			Record:     map[string]any{"subject": map[string]any{"uri": "nope"}},
		},
	}
	assert.Error(t, c.HandleEvent(context.Background(), ev))
}

func TestConnector_DeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{
			"did": "did:plc:alice",
			"kind": "commit",
			"commit": {
				"operation": "create",
				"collection": "app.bsky.feed.post",
				"rkey": "3ws",
				"record": {"text": "over the wire", "createdAt": "2025-06-01T12:00:00Z"}
			}
		}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ing := newMockIngester()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn := NewConnector(NewTimelineConsumer(ing, "firehose", nil), wsURL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Start(ctx) }()

	require.Eventually(t, func() bool { return len(ing.posts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "over the wire", ing.posts()[0].Text)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not stop")
	}
}

func TestTimelineConsumer_DropsReplayedCommits(t *testing.T) {
	ing := newMockIngester()
	c := NewTimelineConsumer(ing, "firehose", nil)

	require.NoError(t, c.HandleEvent(context.Background(), postEvent()))
	require.NoError(t, c.HandleEvent(context.Background(), postEvent()))
	assert.Len(t, ing.posts(), 1, "replayed commit is not ingested twice")

	edited := postEvent()
	edited.Commit.CID = "bafyother"
	require.NoError(t, c.HandleEvent(context.Background(), edited))
	assert.Len(t, ing.posts(), 2, "a different CID is a different commit")
}

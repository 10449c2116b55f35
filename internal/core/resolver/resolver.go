// Package resolver is the default canonical.Resolver. It recognizes reposts and
// boosts as social events on the original post, registers cross-platform
// aliases supplied by fetchers, and derives a deterministic canonical ID from
// the original post's primary native key.
package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/google/uuid"

	"Skein/internal/core/canonical"
)

// Platform identifiers understood by the resolver.
const (
	PlatformBluesky  = "bsky"
	PlatformMastodon = "mastodon"
)

// canonicalNamespace seeds the name-based UUIDs used as canonical IDs.
var canonicalNamespace = uuid.MustParse("6f1c2b9e-5d0a-4c7e-9a63-2f4d8b7e1c05")

// Resolver implements canonical.Resolver
type Resolver struct {
	logger *slog.Logger
}

var _ canonical.Resolver = (*Resolver)(nil)

// New creates a resolver
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve classifies raw and returns its canonical identity, aliases and
// carried social events.
func (r *Resolver) Resolve(raw canonical.RawPost, source canonical.SourceContext) canonical.Resolution {
	if raw.Platform == "" {
		raw.Platform = source.Platform
	}

	original := raw
	var keys []canonical.NativeKey
	var events []canonical.SocialEvent

	if raw.RepostOf != nil {
		original = *raw.RepostOf
		if original.Platform == "" {
			original.Platform = raw.Platform
		}

		wrapper := r.primaryKey(raw)
		keys = append(keys, wrapper)
		events = append(events, canonical.SocialEvent{
			ID:         "repost:" + wrapper.String(),
			Kind:       canonical.EventRepost,
			Actor:      raw.Author,
			OccurredAt: raw.CreatedAt,
		})
		// Events attached to the wrapper describe the original too.
		events = append(events, raw.Events...)
	}

	primary := r.primaryKey(original)
	keys = append([]canonical.NativeKey{primary}, keys...)
	for _, alias := range original.Aliases {
		if alias.Platform == "" || alias.NativeID == "" {
			continue
		}
		keys = append(keys, canonical.NativeKey{
			Platform: alias.Platform,
			NativeID: NormalizeNativeID(alias.Platform, alias.NativeID),
		})
	}
	events = append(events, original.Events...)

	return canonical.Resolution{
		CanonicalID: CanonicalID(primary),
		NativeKeys:  keys,
		Events:      events,
		Post: canonical.RenderablePost{
			StableID:      primary.String(),
			Platform:      primary.Platform,
			NativeID:      primary.NativeID,
			CID:           original.CID,
			URL:           original.URL,
			Author:        original.Author,
			Text:          original.Text,
			CreatedAt:     original.CreatedAt,
			ReplyParentID: original.ReplyToID,
			QuotedID:      original.QuoteOfID,
			Poll:          original.Poll,
			Viewer:        original.Viewer,
		},
	}
}

// primaryKey returns the normalized native key of a raw post. A post without
// an id gets a content-derived one so it still has a stable identity.
func (r *Resolver) primaryKey(raw canonical.RawPost) canonical.NativeKey {
	id := NormalizeNativeID(raw.Platform, raw.ID)
	if id == "" {
		id = contentID(raw)
		r.logger.Warn("raw post has no native id, using content hash",
			"platform", raw.Platform,
			"author", raw.Author.ID,
			"derived_id", id)
	}
	return canonical.NativeKey{Platform: raw.Platform, NativeID: id}
}

// CanonicalID derives the canonical ID for a primary native key.
func CanonicalID(key canonical.NativeKey) string {
	return uuid.NewSHA1(canonicalNamespace, []byte(key.String())).String()
}

// NormalizeNativeID canonicalizes a platform-local id. AT-URIs are re-rendered
// through the atproto syntax parser; everything else is trimmed.
func NormalizeNativeID(platform, id string) string {
	id = strings.TrimSpace(id)
	if platform == PlatformBluesky && strings.HasPrefix(id, "at://") {
		if uri, err := syntax.ParseATURI(id); err == nil {
			return uri.String()
		}
	}
	return id
}

func contentID(raw canonical.RawPost) string {
	h := sha256.New()
	h.Write([]byte(raw.Author.ID))
	h.Write([]byte{0})
	h.Write([]byte(raw.CreatedAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(raw.Text))
	return "content:" + hex.EncodeToString(h.Sum(nil))[:32]
}

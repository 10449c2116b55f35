package canonical

import "time"

// Resolver classifies a raw post into canonical form.
//
// Resolve must be deterministic for the same input, and the native keys it
// returns for a re-ingested post must be a superset of those it returned before.
// It never fails: malformed input still yields a usable identity.
type Resolver interface {
	Resolve(raw RawPost, source SourceContext) Resolution
}

// SortPolicy selects how a timeline entry's sort key is computed
type SortPolicy int

const (
	// SortByCreatedAt orders purely by the post's creation time.
	SortByCreatedAt SortPolicy = iota
	// SortBumpOnRepost moves a post forward to its latest repost time.
	SortBumpOnRepost
)

// ParseSortPolicy maps a config value ("created" or "bump") to a SortPolicy.
func ParseSortPolicy(s string) (SortPolicy, bool) {
	switch s {
	case "created", "createdAt":
		return SortByCreatedAt, true
	case "bump", "bumpOnRepost":
		return SortBumpOnRepost, true
	default:
		return SortByCreatedAt, false
	}
}

// Clock returns the current time
type Clock func() time.Time

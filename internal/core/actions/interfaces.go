package actions

import "context"

// NetworkService performs interaction calls against a backend and returns the
// authoritative post state. Errors must be classifiable with IsNetworkDowntime.
type NetworkService interface {
	Like(ctx context.Context, post Post) (PostActionState, error)
	Unlike(ctx context.Context, post Post) (PostActionState, error)
	Repost(ctx context.Context, post Post) (PostActionState, error)
	Unrepost(ctx context.Context, post Post) (PostActionState, error)

	// Follow, Mute and Block set the relationship with the post's author to value.
	Follow(ctx context.Context, post Post, value bool) (PostActionState, error)
	Mute(ctx context.Context, post Post, value bool) (PostActionState, error)
	Block(ctx context.Context, post Post, value bool) (PostActionState, error)

	// FetchActions reads the current state without mutating anything.
	FetchActions(ctx context.Context, post Post) (PostActionState, error)
}

// Reachability reports connectivity. Subscribe registers fn for every
// online/offline transition and returns a function that cancels it.
type Reachability interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// ErrorReporter is the global sink for failed actions.
type ErrorReporter interface {
	Report(action PendingAction, err error)
}

// QueueStore persists the offline queue so queued intents survive a restart.
// There is at most one queued action per stable id.
type QueueStore interface {
	Save(ctx context.Context, action PendingAction) error
	Delete(ctx context.Context, stableID string) error
	List(ctx context.Context) ([]PendingAction, error)
}

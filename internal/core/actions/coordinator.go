package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"Skein/internal/core/serial"
)

const (
	defaultDebounce    = 300 * time.Millisecond
	defaultStaleAfter  = 60 * time.Second
	defaultCallTimeout = 15 * time.Second
	defaultRetryAfter  = 30 * time.Second
)

// Coordinator orchestrates every user-initiated action: debounce, optimistic
// mutation, offline queueing or dispatch, then reconciliation or rollback.
//
// All state is touched only from the serial loop. Network calls run on their
// own goroutines and hand their results back to the loop. Per post key there
// is at most one request in flight; anything requested meanwhile lands in a
// single deferred slot (last write wins) that runs when the request finishes.
type Coordinator struct {
	loop         *serial.Loop
	container    *Container
	service      NetworkService
	reachability Reachability
	reporter     ErrorReporter
	persister    *persister
	clock        Clock
	logger       *slog.Logger

	debounce    time.Duration
	staleAfter  time.Duration
	callTimeout time.Duration
	retryAfter  time.Duration

	posts      map[string]Post
	lastAction map[string]time.Time
	offline    map[string]PendingAction
	deferred   map[string]PendingAction
	online     bool
	retrying   bool

	ctx         context.Context
	cancelCtx   context.CancelFunc
	unsubscribe func()
	tasks       sync.WaitGroup
	closeOnce   sync.Once

	queueStore QueueStore
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the time source for debouncing and staleness
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDebounce sets the window in which a repeated like/repost toggle on the
// same post is dropped.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		c.debounce = d
	}
}

// WithStaleAfter sets the age after which RefreshIfStale refetches state.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		c.staleAfter = d
	}
}

// WithCallTimeout bounds each network call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRetryAfter sets how long a downtime failure waits before the queue is
// replayed while the network still looks reachable.
func WithRetryAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryAfter = d
		}
	}
}

// WithErrorReporter sets the global error sink.
func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithQueueStore persists the offline queue.
func WithQueueStore(s QueueStore) Option {
	return func(c *Coordinator) {
		c.queueStore = s
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator wires a coordinator to the container and collaborators, and
// subscribes to reachability transitions. The container must only be used
// through the returned coordinator from now on.
func NewCoordinator(
	loop *serial.Loop,
	container *Container,
	service NetworkService,
	reachability Reachability,
	opts ...Option,
) *Coordinator {
	if loop == nil || container == nil || service == nil || reachability == nil {
		panic("actions: loop, container, service and reachability are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		loop:         loop,
		container:    container,
		service:      service,
		reachability: reachability,
		clock:        SystemClock{},
		logger:       slog.Default(),
		debounce:     defaultDebounce,
		staleAfter:   defaultStaleAfter,
		callTimeout:  defaultCallTimeout,
		retryAfter:   defaultRetryAfter,
		posts:        make(map[string]Post),
		lastAction:   make(map[string]time.Time),
		offline:      make(map[string]PendingAction),
		deferred:     make(map[string]PendingAction),
		ctx:          ctx,
		cancelCtx:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = NewLogReporter(c.logger)
	}
	if c.queueStore != nil {
		c.persister = newPersister(c.queueStore, c.logger)
	}

	c.online = reachability.Online()
	c.unsubscribe = reachability.Subscribe(func(online bool) {
		c.loop.Post(func() { c.onReachability(online) })
	})
	return c
}

// Observe registers posts as seen (e.g. from a fresh page) and re-syncs their
// state from the server-declared fields.
func (c *Coordinator) Observe(posts ...Post) error {
	return c.loop.Do(func() {
		for _, p := range posts {
			if p.StableID == "" {
				continue
			}
			c.posts[p.StableID] = p
			c.container.EnsureState(p)
		}
	})
}

// Track registers posts without re-syncing known state from their server
// fields. It is meant for payloads that carried no viewer state.
func (c *Coordinator) Track(posts ...Post) error {
	return c.loop.Do(func() {
		for _, p := range posts {
			if p.StableID == "" {
				continue
			}
			c.track(p)
		}
	})
}

// State returns the current snapshot for a post key.
func (c *Coordinator) State(key string) (PostActionState, bool, error) {
	var (
		s  PostActionState
		ok bool
	)
	err := c.loop.Do(func() {
		s, ok = c.container.State(key)
	})
	return s, ok, err
}

// Status describes what the action layer is doing with a post key.
type Status struct {
	State    PostActionState `json:"state"`
	Pending  bool            `json:"pending"`
	Inflight bool            `json:"inflight"`
}

// Status returns the state of key plus its pending/inflight markers.
func (c *Coordinator) Status(key string) (Status, bool, error) {
	var (
		st Status
		ok bool
	)
	err := c.loop.Do(func() {
		st.State, ok = c.container.State(key)
		st.Pending = c.container.IsPending(key)
		st.Inflight = c.container.IsInflight(key)
	})
	return st, ok, err
}

// Post returns the last observed post for key.
func (c *Coordinator) Post(key string) (Post, bool, error) {
	var (
		p  Post
		ok bool
	)
	err := c.loop.Do(func() {
		p, ok = c.posts[key]
	})
	return p, ok, err
}

// ToggleLike likes or unlikes post depending on its current state. Repeated
// toggles inside the debounce window are dropped.
func (c *Coordinator) ToggleLike(post Post) (PostActionState, error) {
	return c.toggle(post, IntentLike, IntentUnlike, func(s PostActionState) bool { return s.IsLiked })
}

// ToggleRepost reposts or un-reposts post depending on its current state.
func (c *Coordinator) ToggleRepost(post Post) (PostActionState, error) {
	return c.toggle(post, IntentRepost, IntentUnrepost, func(s PostActionState) bool { return s.IsReposted })
}

func (c *Coordinator) toggle(post Post, on, off IntentKind, isOn func(PostActionState) bool) (PostActionState, error) {
	var out PostActionState
	err := c.loop.Do(func() {
		key := post.StableID
		c.track(post)

		now := c.clock.Now()
		if last, ok := c.lastAction[key]; ok && now.Sub(last) < c.debounce {
			c.logger.Debug("action debounced", "stable_id", key)
			out, _ = c.container.State(key)
			return
		}
		c.lastAction[key] = now

		cur, _ := c.container.State(key)
		intent := Intent{Kind: on}
		if isOn(cur) {
			intent.Kind = off
		}
		out = c.start(post, intent, now)
	})
	return out, err
}

// Follow sets whether the user follows the post's author.
func (c *Coordinator) Follow(post Post, value bool) (PostActionState, error) {
	return c.relationshipAction(post, Intent{Kind: IntentFollow, Value: value})
}

// Mute sets whether the post's author is muted.
func (c *Coordinator) Mute(post Post, value bool) (PostActionState, error) {
	return c.relationshipAction(post, Intent{Kind: IntentMute, Value: value})
}

// Block sets whether the post's author is blocked.
func (c *Coordinator) Block(post Post, value bool) (PostActionState, error) {
	return c.relationshipAction(post, Intent{Kind: IntentBlock, Value: value})
}

func (c *Coordinator) relationshipAction(post Post, intent Intent) (PostActionState, error) {
	var out PostActionState
	err := c.loop.Do(func() {
		c.track(post)
		now := c.clock.Now()
		c.lastAction[post.StableID] = now
		out = c.start(post, intent, now)
	})
	return out, err
}

// RegisterReplySuccess bumps the reply state after the caller posted a reply.
func (c *Coordinator) RegisterReplySuccess(post Post) (PostActionState, error) {
	var out PostActionState
	err := c.loop.Do(func() {
		c.track(post)
		c.container.RegisterLocalReply(post.StableID)
		out, _ = c.container.State(post.StableID)
	})
	return out, err
}

// RegisterQuoteSuccess bumps the quote state after the caller posted a quote.
func (c *Coordinator) RegisterQuoteSuccess(post Post) (PostActionState, error) {
	var out PostActionState
	err := c.loop.Do(func() {
		c.track(post)
		c.container.RegisterLocalQuote(post.StableID)
		out, _ = c.container.State(post.StableID)
	})
	return out, err
}

// RefreshIfStale fetches authoritative state when the tracked state is older
// than the staleness window. It reports whether a refresh was issued. Posts
// with a queued or in-flight action are left alone.
func (c *Coordinator) RefreshIfStale(post Post) (bool, error) {
	var issued bool
	err := c.loop.Do(func() {
		key := post.StableID
		c.track(post)
		if c.container.IsPending(key) || c.container.IsInflight(key) {
			return
		}
		cur, _ := c.container.State(key)
		now := c.clock.Now()
		if now.Sub(cur.LastUpdatedAt) < c.staleAfter {
			return
		}
		c.start(post, Intent{Kind: IntentRefresh}, now)
		issued = true
	})
	return issued, err
}

// QueuedActions lists the offline queue, ordered by post key.
func (c *Coordinator) QueuedActions() ([]PendingAction, error) {
	var out []PendingAction
	err := c.loop.Do(func() {
		keys := make([]string, 0, len(c.offline))
		for k := range c.offline {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, c.offline[k])
		}
	})
	return out, err
}

// Restore loads persisted queued actions, re-applies their optimistic effect
// and replays them right away if the network is up.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.queueStore == nil {
		return nil
	}
	saved, err := c.queueStore.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queued actions: %w", err)
	}

	return c.loop.Do(func() {
		for _, a := range saved {
			key := a.Post.StableID
			if _, queued := c.offline[key]; queued || c.container.IsInflight(key) {
				continue
			}
			c.track(a.Post)
			a.Previous, _ = c.applyOptimistic(a)
			c.offline[key] = a
			c.container.MarkPending(key)
		}
		c.logger.Info("restored queued actions", "count", len(saved))
		if c.reachability.Online() {
			c.flush()
		}
	})
}

// Wait blocks until no network call is outstanding.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// Close stops listening to reachability, cancels outstanding calls and waits
// for their completions. Canceled calls are re-queued (and persisted). The
// serial loop is owned by the caller and must still be running.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.cancelCtx()
		c.tasks.Wait()
		if c.persister != nil {
			c.persister.close()
		}
	})
}

// track makes sure key has a state and a known post, without re-syncing an
// existing state from possibly stale server fields.
func (c *Coordinator) track(post Post) {
	key := post.StableID
	if _, ok := c.posts[key]; !ok {
		c.posts[key] = post
	}
	if _, ok := c.container.State(key); !ok {
		c.container.EnsureState(post)
	}
}

// start applies the optimistic effect of intent and dispatches it.
func (c *Coordinator) start(post Post, intent Intent, now time.Time) PostActionState {
	action := PendingAction{
		Post:      post,
		Intent:    intent,
		CreatedAt: now,
	}
	action.Previous, _ = c.applyOptimistic(action)
	c.dispatch(action)

	s, _ := c.container.State(post.StableID)
	return s
}

// applyOptimistic mutates the container for action and returns the snapshot
// to roll back to, plus whether anything changed.
func (c *Coordinator) applyOptimistic(action PendingAction) (PostActionState, bool) {
	key := action.Post.StableID

	switch action.Intent.Kind {
	case IntentLike:
		return c.container.OptimisticLike(key)
	case IntentUnlike:
		return c.container.OptimisticUnlike(key)
	case IntentRepost:
		return c.container.OptimisticRepost(key)
	case IntentUnrepost:
		return c.container.OptimisticUnrepost(key)
	case IntentFollow:
		return c.container.OptimisticFollow(key, action.Intent.Value)
	case IntentMute:
		return c.container.OptimisticMute(key, action.Intent.Value)
	case IntentBlock:
		return c.container.OptimisticBlock(key, action.Intent.Value)
	default:
		prev, _ := c.container.State(key)
		return prev, false
	}
}

// dispatch queues action offline, defers it behind an in-flight request for
// the same key, or executes it.
func (c *Coordinator) dispatch(action PendingAction) {
	key := action.Post.StableID

	if !c.reachability.Online() {
		c.enqueueOffline(action)
		return
	}

	if c.container.IsInflight(key) {
		if prior, ok := c.deferred[key]; ok {
			c.logger.Debug("replacing deferred action",
				"stable_id", key,
				"old_intent", prior.Intent.String(),
				"new_intent", action.Intent.String())
		}
		c.deferred[key] = action
		return
	}

	c.execute(action)
}

// enqueueOffline puts action in the key's single queue slot. If the slot is
// taken, the newer intent wins and keeps the older rollback snapshot, so a
// failed replay restores the state from before any queued tap. A slot whose
// net effect is nothing is dropped.
func (c *Coordinator) enqueueOffline(action PendingAction) {
	key := action.Post.StableID
	if queued, ok := c.offline[key]; ok {
		merged, keep := c.mergeQueued(queued, action)
		if !keep {
			c.dropQueued(key)
			return
		}
		action = merged
	}

	c.container.MarkPending(key)
	c.offline[key] = action
	if c.persister != nil {
		c.persister.save(action)
	}
	c.logger.Debug("action queued offline",
		"stable_id", key,
		"intent", action.Intent.String())
}

func (c *Coordinator) mergeQueued(queued, action PendingAction) (PendingAction, bool) {
	older, newer := queued, action
	if action.CreatedAt.Before(queued.CreatedAt) {
		older, newer = action, queued
	}

	// A refresh never displaces a mutation.
	if newer.Intent.Kind == IntentRefresh {
		return older, true
	}
	if older.Intent.Kind == IntentRefresh {
		return newer, true
	}

	if older.Intent.Kind.field() != newer.Intent.Kind.field() {
		// Only one intent per post is replayed, so the older one's optimistic
		// effect has to go with it.
		c.logger.Warn("queued action superseded",
			"stable_id", newer.Post.StableID,
			"dropped_intent", older.Intent.String(),
			"intent", newer.Intent.String())
		c.container.RevertIntent(older.Intent.Kind, older.Previous)
	}
	newer.Previous = older.Previous

	cur, _ := c.container.State(newer.Post.StableID)
	return newer, newer.Intent.Kind.touches(cur, newer.Previous)
}

// rebaseQueued re-applies a queued action on top of freshly reconciled state,
// which becomes its rollback snapshot. A toggle the server already reflects
// is dropped.
func (c *Coordinator) rebaseQueued(q PendingAction) {
	key := q.Post.StableID
	prev, applied := c.applyOptimistic(q)
	if !applied && q.Intent.Kind != IntentRefresh {
		c.dropQueued(key)
		return
	}
	if applied {
		q.Previous = prev
		c.offline[key] = q
		if c.persister != nil {
			c.persister.save(q)
		}
	}
	c.container.MarkPending(key)
}

func (c *Coordinator) dropQueued(key string) {
	delete(c.offline, key)
	c.container.ClearPending(key)
	if c.persister != nil {
		c.persister.remove(key)
	}
	c.logger.Debug("queued actions cancel out, nothing to replay", "stable_id", key)
}

func (c *Coordinator) execute(action PendingAction) {
	key := action.Post.StableID

	c.container.ClearPending(key)
	if _, queued := c.offline[key]; queued {
		delete(c.offline, key)
		if c.persister != nil {
			c.persister.remove(key)
		}
	}
	c.container.MarkInflight(key)

	c.tasks.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
		state, err := c.call(ctx, action)
		cancel()

		posted := c.loop.Post(func() {
			defer c.tasks.Done()
			c.complete(action, state, err)
		})
		if !posted {
			c.tasks.Done()
		}
	}()
}

func (c *Coordinator) call(ctx context.Context, action PendingAction) (PostActionState, error) {
	post := action.Post
	switch action.Intent.Kind {
	case IntentLike:
		return c.service.Like(ctx, post)
	case IntentUnlike:
		return c.service.Unlike(ctx, post)
	case IntentRepost:
		return c.service.Repost(ctx, post)
	case IntentUnrepost:
		return c.service.Unrepost(ctx, post)
	case IntentFollow:
		return c.service.Follow(ctx, post, action.Intent.Value)
	case IntentMute:
		return c.service.Mute(ctx, post, action.Intent.Value)
	case IntentBlock:
		return c.service.Block(ctx, post, action.Intent.Value)
	case IntentRefresh:
		return c.service.FetchActions(ctx, post)
	default:
		return PostActionState{}, fmt.Errorf("%w: %s", ErrUnknownIntent, action.Intent)
	}
}

// complete runs on the loop once a network call returned.
func (c *Coordinator) complete(action PendingAction, state PostActionState, err error) {
	key := action.Post.StableID
	c.container.ClearInflight(key)

	if err == nil {
		state.StableID = key
		c.container.Reconcile(state)
		if queued, ok := c.offline[key]; ok {
			c.rebaseQueued(queued)
		}
		c.logger.Debug("action reconciled",
			"stable_id", key,
			"intent", action.Intent.String())
		c.drain(key)
		return
	}

	c.container.RevertIntent(action.Intent.Kind, action.Previous)

	// A rejected action still merges into a slot queued meanwhile, so that
	// slot rolls back to the state from before this action.
	downtime := IsNetworkDowntime(err)
	if _, queued := c.offline[key]; downtime || queued {
		c.enqueueOffline(action)
	}
	if downtime && c.reachability.Online() {
		c.scheduleRetry()
	}
	c.logger.Warn("action failed",
		"stable_id", key,
		"intent", action.Intent.String(),
		"requeued", downtime,
		"error", err)
	c.reporter.Report(action, err)
	c.drain(key)
}

// drain runs the deferred action for key, if any. Its optimistic effect is
// re-applied on top of whatever the finished request left behind, so the
// latest intent stays visible. If the effect is still in place, the snapshot
// taken when it was first requested stays the rollback target.
func (c *Coordinator) drain(key string) {
	next, ok := c.deferred[key]
	if !ok {
		return
	}
	delete(c.deferred, key)

	if prev, applied := c.applyOptimistic(next); applied {
		next.Previous = prev
	}
	c.dispatch(next)
}

// scheduleRetry replays the queue after retryAfter. A downtime failure while
// the network looks reachable gets no offline-to-online transition, so the
// queue would otherwise wait for the next outage.
func (c *Coordinator) scheduleRetry() {
	if c.retrying {
		return
	}
	c.retrying = true
	time.AfterFunc(c.retryAfter, func() {
		if c.ctx.Err() != nil {
			return
		}
		c.loop.Post(func() {
			c.retrying = false
			if c.ctx.Err() != nil || !c.reachability.Online() || len(c.offline) == 0 {
				return
			}
			c.logger.Info("retrying queued actions", "count", len(c.offline))
			c.flush()
		})
	})
}

func (c *Coordinator) onReachability(online bool) {
	was := c.online
	c.online = online
	if online && !was {
		c.logger.Info("network back online, replaying queued actions", "count", len(c.offline))
		c.flush()
	}
}

// flush re-submits every queued action through dispatch.
func (c *Coordinator) flush() {
	queued := make([]PendingAction, 0, len(c.offline))
	for _, a := range c.offline {
		queued = append(queued, a)
	}
	for _, a := range queued {
		c.dispatch(a)
	}
}

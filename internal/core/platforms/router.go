// Package platforms routes post actions to the network service of the post's
// platform, guarding each platform with a rate limiter and a circuit breaker.
package platforms

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"Skein/internal/core/actions"
)

// Router implements actions.NetworkService by dispatching on Post.Platform.
type Router struct {
	services map[string]actions.NetworkService
	limiters map[string]*rate.Limiter
	breaker  *circuitBreaker
	logger   *slog.Logger
	limit    rate.Limit
	burst    int
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRateLimit caps calls per platform. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) RouterOption {
	return func(r *Router) {
		r.limit = limit
		r.burst = burst
	}
}

// WithClock sets the time source of the circuit breaker
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.breaker.now = now
		}
	}
}

// NewRouter creates an empty router. Register services before use; the
// router is not safe for concurrent registration.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		services: make(map[string]actions.NetworkService),
		limiters: make(map[string]*rate.Limiter),
		logger:   slog.Default(),
		limit:    rate.Limit(10),
		burst:    20,
	}
	r.breaker = newCircuitBreaker(r.logger, time.Now)
	for _, opt := range opts {
		opt(r)
	}
	r.breaker.logger = r.logger
	return r
}

// Register binds a network service to a platform name.
func (r *Router) Register(platform string, svc actions.NetworkService) {
	r.services[platform] = svc
	if r.limit > 0 {
		r.limiters[platform] = rate.NewLimiter(r.limit, r.burst)
	}
}

// Platforms lists the registered platforms, sorted.
func (r *Router) Platforms() []string {
	out := make([]string, 0, len(r.services))
	for p := range r.services {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Like(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	return r.route(ctx, post, "like", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Like(ctx, post)
	})
}

func (r *Router) Unlike(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	return r.route(ctx, post, "unlike", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Unlike(ctx, post)
	})
}

func (r *Router) Repost(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	return r.route(ctx, post, "repost", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Repost(ctx, post)
	})
}

func (r *Router) Unrepost(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	return r.route(ctx, post, "unrepost", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Unrepost(ctx, post)
	})
}

func (r *Router) Follow(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	return r.route(ctx, post, "follow", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Follow(ctx, post, value)
	})
}

func (r *Router) Mute(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	return r.route(ctx, post, "mute", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Mute(ctx, post, value)
	})
}

func (r *Router) Block(ctx context.Context, post actions.Post, value bool) (actions.PostActionState, error) {
	return r.route(ctx, post, "block", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.Block(ctx, post, value)
	})
}

func (r *Router) FetchActions(ctx context.Context, post actions.Post) (actions.PostActionState, error) {
	return r.route(ctx, post, "fetch", func(svc actions.NetworkService) (actions.PostActionState, error) {
		return svc.FetchActions(ctx, post)
	})
}

func (r *Router) route(
	ctx context.Context,
	post actions.Post,
	op string,
	call func(actions.NetworkService) (actions.PostActionState, error),
) (actions.PostActionState, error) {
	svc, ok := r.services[post.Platform]
	if !ok {
		return actions.PostActionState{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, post.Platform)
	}

	if err := r.breaker.canAttempt(post.Platform); err != nil {
		return actions.PostActionState{}, err
	}

	if limiter := r.limiters[post.Platform]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return actions.PostActionState{}, fmt.Errorf("%w: rate limiter wait for %s: %v", actions.ErrTimeout, post.Platform, err)
		}
	}

	state, err := call(svc)
	if err != nil {
		// Rejections mean the platform is up; only downtime trips the breaker.
		if actions.IsNetworkDowntime(err) {
			r.breaker.recordFailure(post.Platform, err)
		} else {
			r.breaker.recordSuccess(post.Platform)
		}
		return actions.PostActionState{}, fmt.Errorf("%s %s on %s: %w", op, post.StableID, post.Platform, err)
	}

	r.breaker.recordSuccess(post.Platform)
	state.StableID = post.StableID
	return state, nil
}

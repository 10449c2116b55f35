package platforms

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Platform failing, calls short-circuited
	stateHalfOpen                     // Testing if the platform recovered
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker tracks consecutive downtime failures per platform and stops
// calling a platform that keeps failing.
type circuitBreaker struct {
	failures         map[string]int
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	now              func() time.Time
	logger           *slog.Logger
	failureThreshold int
	openDuration     time.Duration
	mu               sync.Mutex
}

func newCircuitBreaker(logger *slog.Logger, now func() time.Time) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: 3,               // Open after 3 consecutive failures
		openDuration:     5 * time.Minute, // Keep open for 5 minutes
		failures:         make(map[string]int),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
		now:              now,
		logger:           logger,
	}
}

// canAttempt reports whether platform may be called. An open circuit moves to
// half-open once the open period has elapsed.
func (cb *circuitBreaker) canAttempt(platform string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.getState(platform)
	if state != stateOpen {
		return nil
	}

	nextRetry := cb.lastFailure[platform].Add(cb.openDuration)
	if cb.now().After(nextRetry) {
		cb.setState(platform, stateHalfOpen)
		return nil
	}

	return fmt.Errorf("%w for platform '%s' (failures: %d, next retry: %s)",
		ErrCircuitOpen,
		platform,
		cb.failures[platform],
		nextRetry.Format("15:04:05"),
	)
}

// recordSuccess resets the failure count
func (cb *circuitBreaker) recordSuccess(platform string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.failures, platform)
	delete(cb.lastFailure, platform)
	cb.setState(platform, stateClosed)
}

// recordFailure counts a downtime failure. A failure while half-open reopens
// the circuit immediately.
func (cb *circuitBreaker) recordFailure(platform string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[platform]++
	cb.lastFailure[platform] = cb.now()
	failCount := cb.failures[platform]

	if failCount >= cb.failureThreshold || cb.getState(platform) == stateHalfOpen {
		if cb.getState(platform) != stateOpen {
			cb.logger.Warn("opening circuit for platform",
				"platform", platform,
				"failures", failCount,
				"error", err)
		}
		cb.state[platform] = stateOpen
		return
	}

	cb.logger.Debug("platform call failed",
		"platform", platform,
		"failures", failCount,
		"threshold", cb.failureThreshold,
		"error", err)
}

// getState must be called with the lock held
func (cb *circuitBreaker) getState(platform string) circuitState {
	if state, ok := cb.state[platform]; ok {
		return state
	}
	return stateClosed
}

// setState must be called with the lock held
func (cb *circuitBreaker) setState(platform string, next circuitState) {
	prev := cb.getState(platform)
	cb.state[platform] = next
	if prev != next {
		cb.logger.Info("circuit state changed", "platform", platform, "state", next.String())
	}
}

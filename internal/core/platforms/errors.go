package platforms

import (
	"errors"
	"fmt"

	"Skein/internal/core/actions"
)

var (
	// ErrUnsupportedPlatform is returned for a post whose platform has no
	// registered service.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrCircuitOpen is returned while a platform is failing and calls are
	// short-circuited. It wraps actions.ErrServerUnavailable so the action is
	// queued for replay.
	ErrCircuitOpen = fmt.Errorf("circuit breaker open: %w", actions.ErrServerUnavailable)
)

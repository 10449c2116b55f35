package actions

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Network-downtime errors. Actions failing with one of these are rolled back
// and re-queued for replay on reconnect. Network services wrap their transport
// failures with these so the coordinator can classify them with errors.Is.
var (
	ErrOffline           = errors.New("network offline")
	ErrTimeout           = errors.New("request timed out")
	ErrConnectionLost    = errors.New("connection lost")
	ErrServerUnavailable = errors.New("server temporarily unavailable")
)

var (
	// ErrUnknownIntent is returned for an intent kind no service call maps to
	ErrUnknownIntent = errors.New("unknown action intent")

	// ErrUnknownPost indicates an action referenced a post that was never observed
	ErrUnknownPost = errors.New("post is not tracked")
)

// IsNetworkDowntime reports whether err means the backend could not be reached
// or failed transiently, as opposed to rejecting the request.
//
// context.Canceled counts as downtime: calls are only canceled when the
// coordinator shuts down, and those intents should be replayed.
func IsNetworkDowntime(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrOffline),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrServerUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}

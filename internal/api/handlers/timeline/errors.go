package timeline

import (
	"errors"
	"log/slog"
	"net/http"

	"Skein/internal/api/handlers"
	"Skein/internal/atproto/pds"
	"Skein/internal/core/actions"
	"Skein/internal/core/feed"
	"Skein/internal/core/serial"
)

// handleServiceError maps service errors to HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrEmptyTimelineID):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, serial.ErrClosed):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ShuttingDown", "Server is shutting down")
	case errors.Is(err, pds.ErrUnauthorized), errors.Is(err, pds.ErrForbidden):
		handlers.WriteError(w, http.StatusBadGateway, "UpstreamAuthFailed", "The network service rejected the account credentials")
	case actions.IsNetworkDowntime(err):
		handlers.WriteError(w, http.StatusBadGateway, "UpstreamUnavailable", "The network service is unreachable")
	default:
		slog.Error("timeline service error", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}

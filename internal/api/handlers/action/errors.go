package action

import (
	"errors"
	"log/slog"
	"net/http"

	"Skein/internal/api/handlers"
	"Skein/internal/core/actions"
	"Skein/internal/core/serial"
)

// handleServiceError maps coordinator errors to HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, actions.ErrUnknownPost):
		handlers.WriteError(w, http.StatusNotFound, "PostNotFound", "Post has not been observed in any timeline")
	case errors.Is(err, actions.ErrUnknownIntent):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, serial.ErrClosed):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ShuttingDown", "Server is shutting down")
	default:
		slog.Error("action service error", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}

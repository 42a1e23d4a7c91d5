package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
)

// errValidation marks request bodies that are well-formed JSON but carry
// values out of range.
var errValidation = errors.New("invalid request")

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, protocol.ErrFormat), errors.Is(err, errValidation):
		return http.StatusBadRequest
	case errors.Is(err, diffuser.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, ble.ErrNotFound), errors.Is(err, ble.ErrTimeout),
		errors.Is(err, ble.ErrConnection), errors.Is(err, ble.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ble.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes {"error": ...} with the mapped status.
func respondError(c *gin.Context, action string, err error, kv ...any) {
	code := statusForError(err)
	attrs := append([]any{"action", action, "error", err, "status", code}, kv...)
	if code >= http.StatusInternalServerError {
		slog.Warn("[API] request failed", attrs...)
	} else {
		slog.Debug("[API] request rejected", attrs...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

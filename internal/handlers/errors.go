package handlers

import (
	"errors"
	"net/http"

	"valve_dashboard/internal/service"
	"valve_dashboard/internal/session"
	"valve_dashboard/internal/transport"
	"valve_dashboard/internal/valve"

	"github.com/gin-gonic/gin"
)

const errInternal = "internal error"

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err, "request_id", c.GetString(ctxRequestID)}, kv...)
		if httpCode >= http.StatusInternalServerError {
			h.log.Errorw(logKey, fields...)
		} else {
			h.log.Warnw(logKey, fields...)
		}
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// writeError maps the engine and backend error taxonomy onto HTTP.
func (h *Handler) writeError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	code, msg := classify(err)
	h.logAndJSONError(c, code, msg, logKey, err, kv...)
}

func classify(err error) (int, string) {
	var rejected *transport.RejectedError
	switch {
	case errors.Is(err, session.ErrUnknownDevice), errors.Is(err, transport.ErrNotFound):
		return http.StatusNotFound, "device not found"
	case errors.Is(err, valve.ErrCommandPending), errors.Is(err, valve.ErrDeviceOffline):
		return http.StatusConflict, err.Error()
	case errors.Is(err, valve.ErrInvalidTarget), service.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrNotMounted):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &rejected), errors.Is(err, transport.ErrNetworkUnavailable), errors.Is(err, transport.ErrMalformedPayload):
		return http.StatusBadGateway, transport.Cause(err)
	default:
		return http.StatusInternalServerError, errInternal
	}
}

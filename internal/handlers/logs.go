package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/service"
)

const (
	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// journalQuery is the query string of GET /api/v1/logs.
type journalQuery struct {
	From     string `form:"from"`
	To       string `form:"to"`
	Type     string `form:"type"`
	DeviceID string `form:"device_id"`
}

// filter turns the raw query into a journal filter. A date-only "to" is
// inclusive of that whole day.
func (q journalQuery) filter() (service.LogFilter, error) {
	f := service.LogFilter{
		Type:     strings.ToUpper(strings.TrimSpace(q.Type)),
		DeviceID: strings.TrimSpace(q.DeviceID),
	}
	if f.Type != "" && !models.KnownEventType(f.Type) {
		return f, fmt.Errorf("unknown event type %q", q.Type)
	}

	var err error
	if q.From != "" {
		if f.From, err = parseQueryTime(q.From); err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
	}
	if q.To != "" {
		if f.To, err = parseQueryTime(q.To); err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		if !strings.ContainsAny(q.To, "T ") {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, fmt.Errorf("'from' must be <= 'to'")
	}
	return f, nil
}

// @Summary      Session journal
// @Description  Mounts, valve commands and their outcomes, list-poll outages and render faults of this process, oldest first.
// @Tags         logs
// @Produce      json
// @Param        from       query  string  false  "Start (RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD')"  example(2025-08-01)
// @Param        to         query  string  false  "End; a bare date covers the whole day"  example(2025-08-31)
// @Param        type       query  string  false  "Event type"  Enums(MOUNT,UNMOUNT,COMMAND,COMMAND_OK,COMMAND_FAIL,POLL_FAIL,POLL_HEALED,RENDER_FAULT)
// @Param        device_id  query  string  false  "Device id"
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
func (h *Handler) getLogs(c *gin.Context) {
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, err.Error(), "logs_query_invalid", err)
		return
	}
	f, err := q.filter()
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, err.Error(), "logs_query_invalid", err)
		return
	}

	events, err := h.services.EventLog.List(c.Request.Context(), f)
	switch {
	case service.IsValidation(err):
		h.logAndJSONError(c, http.StatusBadRequest, err.Error(), "logs_query_invalid", err)
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load logs", "logs_list_failed", err,
			"type", f.Type, "device", f.DeviceID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
}

// parseQueryTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" and "YYYY-MM-DD",
// all read as UTC.
func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q; use RFC3339 or YYYY-MM-DD", s)
}

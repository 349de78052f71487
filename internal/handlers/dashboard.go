package handlers

import (
	"net/http"
	"strconv"

	"valve_dashboard/internal/valve"

	"github.com/gin-gonic/gin"
)

const (
	statusOK       = "ok"
	statusRetrying = "retrying"
	statusReloaded = "reloaded"
)

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Dashboard view
// @Description  Device list state plus one card per device (valve, sensor freshness), or a fallback for a faulted card.
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  session.View
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/dashboard [get]
func (h *Handler) getDashboard(c *gin.Context) {
	v, err := h.services.Dashboard.View(c.Request.Context())
	if err != nil {
		h.writeError(c, "dashboard_view_failed", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary      Retry device list
// @Description  Issues an immediate device-list poll.
// @Tags         dashboard
// @Produce      json
// @Success      202  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/dashboard/retry [post]
func (h *Handler) retryDashboard(c *gin.Context) {
	if err := h.services.Dashboard.Retry(c.Request.Context()); err != nil {
		h.writeError(c, "dashboard_retry_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": statusRetrying})
}

// @Summary      Reload dashboard
// @Description  Tears the session down and mounts a fresh one. Clears faulted boundaries.
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/dashboard/reload [post]
func (h *Handler) reloadDashboard(c *gin.Context) {
	if err := h.services.Dashboard.Reload(c.Request.Context()); err != nil {
		h.writeError(c, "dashboard_reload_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusReloaded})
}

// @Summary      Toggle valve
// @Description  Commands the opposite of the last acknowledged position. Rejected while a command is pending or the device is offline.
// @Tags         valves
// @Produce      json
// @Param        id    path   string  true   "Device id"
// @Param        wait  query  bool    false  "Wait for the backend outcome"
// @Success      202  {object}  valve.State
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/toggle [post]
func (h *Handler) toggleValve(c *gin.Context) {
	id := c.Param("id")
	st, err := h.services.Dashboard.Toggle(c.Request.Context(), id, waitParam(c))
	if err != nil {
		h.writeError(c, "valve_toggle_failed", err, "device", id)
		return
	}
	c.JSON(commandStatus(st), st)
}

// @Summary      Open valve
// @Tags         valves
// @Produce      json
// @Param        id    path   string  true   "Device id"
// @Param        wait  query  bool    false  "Wait for the backend outcome"
// @Success      202  {object}  valve.State
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/open [post]
func (h *Handler) openValve(c *gin.Context) { h.command(c, valve.Open) }

// @Summary      Close valve
// @Tags         valves
// @Produce      json
// @Param        id    path   string  true   "Device id"
// @Param        wait  query  bool    false  "Wait for the backend outcome"
// @Success      202  {object}  valve.State
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/close [post]
func (h *Handler) closeValve(c *gin.Context) { h.command(c, valve.Closed) }

func (h *Handler) command(c *gin.Context, target valve.Position) {
	id := c.Param("id")
	st, err := h.services.Dashboard.Command(c.Request.Context(), id, target, waitParam(c))
	if err != nil {
		h.writeError(c, "valve_command_failed", err, "device", id, "target", target)
		return
	}
	c.JSON(commandStatus(st), st)
}

// commandStatus is 202 while the command is still in flight.
func commandStatus(st valve.State) int {
	if st.Pending {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func waitParam(c *gin.Context) bool {
	ok, _ := strconv.ParseBool(c.Query("wait"))
	return ok
}

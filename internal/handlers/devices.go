package handlers

import (
	"net/http"

	"valve_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Device detail
// @Tags         devices
// @Produce      json
// @Param        id   path  string  true  "Device id"
// @Success      200  {object}  models.Device
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id} [get]
func (h *Handler) getDevice(c *gin.Context) {
	id := c.Param("id")
	d, err := h.services.Devices.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "device_get_failed", err, "device", id)
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Device status
// @Description  Backend status document, passed through unchanged.
// @Tags         devices
// @Produce      json
// @Param        id   path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id}/status [get]
func (h *Handler) getDeviceStatus(c *gin.Context) {
	id := c.Param("id")
	st, err := h.services.Devices.Status(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "device_status_failed", err, "device", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Valve command history
// @Tags         devices
// @Produce      json
// @Param        id   path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}  "count, controls"
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id}/history [get]
func (h *Handler) getValveHistory(c *gin.Context) {
	id := c.Param("id")
	items, err := h.services.Devices.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "valve_history_failed", err, "device", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(items),
		"controls": items,
	})
}

// @Summary      Flow statistics
// @Tags         devices
// @Produce      json
// @Param        id          path   string  true   "Device id"
// @Param        start_date  query  string  false  "YYYY-MM-DD or RFC3339"  example(2025-08-01)
// @Param        end_date    query  string  false  "YYYY-MM-DD or RFC3339"  example(2025-08-31)
// @Success      200  {object}  models.SensorStats
// @Failure      400  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id}/stats [get]
func (h *Handler) getReadingStats(c *gin.Context) {
	id := c.Param("id")
	st, err := h.services.Devices.Stats(c.Request.Context(), id, service.StatsFilter{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	})
	if err != nil {
		h.writeError(c, "reading_stats_failed", err, "device", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

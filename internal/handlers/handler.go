package handlers

import (
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	opts     Options
}

// Options tunes the HTTP layer. Zero values fall back to defaults.
type Options struct {
	AllowOrigins   []string
	StreamInterval time.Duration // default websocket push interval
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts ...Options) *Handler {
	h := &Handler{services: services, log: log}
	if len(opts) > 0 {
		h.opts = opts[0]
	}
	if h.opts.StreamInterval <= 0 || h.opts.StreamInterval > maxInterval {
		h.opts.StreamInterval = defaultInterval
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestID, h.requestLogger, h.cors())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAPIRoutes(router)

	// Dashboard stream over the same port.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerDashboardRoutes(api)
		h.registerDeviceRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerDashboardRoutes(api *gin.RouterGroup) {
	dash := api.Group("/dashboard")
	{
		dash.GET("", h.getDashboard)
		dash.POST("/retry", h.retryDashboard)
		dash.POST("/reload", h.reloadDashboard)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices/:id")
	{
		devices.GET("", h.getDevice)
		devices.GET("/status", h.getDeviceStatus)
		devices.GET("/history", h.getValveHistory)
		devices.GET("/stats", h.getReadingStats)
		devices.POST("/toggle", h.toggleValve)
		devices.POST("/open", h.openValve)
		devices.POST("/close", h.closeValve)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
	}
}

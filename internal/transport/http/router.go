package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iamasit07/geo-tracking/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	AllowedOrigins []string
	Timelines      *TimelineHandler
	Devices        *DeviceHandler
	Health         *HealthHandler
	WebSocket      http.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	api := router.Group("/api")
	{
		api.GET("/timeline", cfg.Timelines.GetHistory)
		api.GET("/timeline/active", cfg.Timelines.GetActive)
		api.GET("/timeline/detail", cfg.Timelines.GetDetail)

		api.GET("/pointers", cfg.Devices.GetPointers)
		api.POST("/devices/:id/commands", cfg.Devices.SendCommand)
	}

	router.GET("/healthz", cfg.Health.Health)

	// Origin checks for the upgrade happen inside the websocket handler.
	router.GET("/ws", gin.WrapF(cfg.WebSocket))

	return router
}

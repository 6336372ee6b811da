package api

import (
	"sendit/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on the upload endpoint only; signaling has its own
	// per-peer message budget.
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, handler.registry.Clock())

	// Health & stats
	e.GET("/", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Room lifecycle
	e.POST("/api/rooms", handler.HandleCreateRoom)
	e.GET("/api/rooms/:code", handler.HandleRoomInfo)

	// File relay
	e.POST("/api/relay/upload", handler.HandleUpload, uploadLimiter.Middleware())
	e.GET("/api/relay/download/:id", handler.HandleDownload)

	// Signaling
	e.GET("/ws/:code", handler.HandleWebSocket)

	return e
}

package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/caspy-social/caspy-backend/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler *Handler, authCfg middleware.AuthConfig, wsHandler gin.HandlerFunc) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// WebSocket upgrade into the chat room hub (open, tracked per room)
	router.GET("/ws", wsHandler)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Takeover endpoints
		v1.GET("/cto/config", handler.GetCTOConfig)
		v1.GET("/cto/access/:tokenHash/:wallet", handler.GetAccess)
		v1.GET("/cto/availability/:tokenHash", handler.GetAvailability)
		v1.POST("/cto/link", handler.LinkPayment)
		v1.GET("/cto/pending/:deployHash", handler.GetPendingPayment)

		// Revoking a grant needs operator credentials (JWT or API key)
		v1.DELETE("/cto/access/:tokenHash/:wallet", middleware.Auth(authCfg), handler.RevokeAccess)

		// Trade feed (public read access)
		v1.GET("/tokens/:tokenHash/trades", handler.GetTrades)

		// Story endpoints
		v1.POST("/stories", handler.CreateStory)
		v1.GET("/stories/:id", handler.GetStory)
		v1.POST("/stories/:id/activity", handler.RecordStoryActivity)

		// Manual reward distribution (requires API key authentication)
		v1.POST("/rewards/distribute", middleware.APIKeyAuth(authCfg), handler.DistributeRewards)
	}
}

package routes

import (
	"telecare/internal/handlers"
	"telecare/internal/middleware"
	"telecare/internal/utils"

	"github.com/gin-gonic/gin"
)

// Handlers bundles everything the route table serves
type Handlers struct {
	Chat      *handlers.ChatHandler
	Call      *handlers.CallHandler
	System    *handlers.SystemHandler
	WebSocket *handlers.WebSocketHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, validator *utils.TokenValidator, limiter *middleware.RateLimiter) {
	// Health check
	router.GET("/health", h.System.HandleHealthCheck)

	SetupWebSocketRoutes(router, h.WebSocket)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(validator), middleware.RateLimit(limiter))
	{
		v1.GET("/ice-servers", h.System.GetICEServers)

		chats := v1.Group("/chats")
		{
			chats.POST("", h.Chat.StartChat)
			chats.GET("", h.Chat.ListThreads)
			chats.GET("/unread-count", h.Chat.UnreadCount)
			chats.GET("/:thread_id", h.Chat.GetThread)
			chats.POST("/:thread_id/messages", h.Chat.SendMessage)
			chats.POST("/:thread_id/messages/:message_id/read", h.Chat.MarkRead)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("", h.Call.CreateCall)
			calls.GET("/code/:code", h.Call.GetCallByCode)
			calls.GET("/:call_id", h.Call.GetCall)
			calls.POST("/:call_id/end", h.Call.EndCall)
			calls.POST("/:call_id/cancel", h.Call.CancelCall)
		}
	}
}

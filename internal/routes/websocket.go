package routes

import (
	"telecare/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupWebSocketRoutes mounts the realtime endpoint. It authenticates from the
// query or subprotocol itself, since browsers cannot set upgrade headers.
func SetupWebSocketRoutes(router *gin.Engine, ws *handlers.WebSocketHandler) {
	router.GET("/ws", ws.HandleWebSocket)
}

package handlers

import (
	"context"
	"net/http"

	"telecare/internal/config"
	"telecare/internal/middleware"
	"telecare/internal/utils"
	"telecare/internal/websocket"
	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
)

// Subprotocol is echoed back to browsers that send their token as a subprotocol
const Subprotocol = "telecare.v1"

type WebSocketHandler struct {
	ctx        context.Context
	hub        *websocket.Hub
	dispatcher websocket.Dispatcher
	validator  *utils.TokenValidator
	upgrader   gorillaws.Upgrader
	opts       websocket.ClientOptions
	maxConns   int
}

// NewWebSocketHandler builds the upgrade endpoint. ctx bounds every command
// dispatched on the accepted connections.
func NewWebSocketHandler(ctx context.Context, hub *websocket.Hub, dispatcher websocket.Dispatcher, validator *utils.TokenValidator, cfg *config.Config) *WebSocketHandler {
	ws := cfg.Server.WebSocket
	origins := ws.AllowedOrigins
	if len(origins) == 0 {
		origins = cfg.Server.CORS.AllowedOrigins
	}

	return &WebSocketHandler{
		ctx:        ctx,
		hub:        hub,
		dispatcher: dispatcher,
		validator:  validator,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  ws.ReadBufferSize,
			WriteBufferSize: ws.WriteBufferSize,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || middleware.IsOriginAllowed(origin, origins)
			},
		},
		opts: websocket.ClientOptions{
			WriteWait:      ws.WriteWait,
			PongWait:       ws.PongWait,
			PingPeriod:     ws.PingPeriod,
			MaxMessageSize: ws.MaxMessageSize,
			SendBufferSize: ws.SendBufferSize,
			MessagesPerMin: cfg.Security.RateLimit.WSMessagesPerMin,
		},
		maxConns: cfg.Security.RateLimit.WSMaxConnsPerUser,
	}
}

// HandleWebSocket authenticates the participant, upgrades the connection and
// serves it until it closes
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.validator.Validate(middleware.TokenFromRequest(c))
	if err != nil {
		logger.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected WebSocket connection")
		utils.UnauthorizedResponse(c, "Invalid or missing token")
		return
	}

	if h.maxConns > 0 && h.hub.UserConnectionCount(claims.UserID) >= h.maxConns {
		utils.ErrorResponse(c, http.StatusTooManyRequests, "Too many open connections")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	opts := h.opts
	opts.IP = c.ClientIP()
	opts.UserAgent = c.GetHeader("User-Agent")

	client := websocket.NewClient(conn, claims.UserID, claims.Kind, opts)
	h.hub.Register(client)

	client.SendMessage(websocket.NewWSMessage(websocket.MessageTypeConnected, &websocket.ConnectedPayload{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		Kind:         client.Kind,
		ServerTime:   client.ConnectedAt,
	}))

	go client.WritePump()
	client.ReadPump(h.ctx, h.dispatcher)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"telecare/internal/config"
	"telecare/internal/utils"
	"telecare/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// StorageCheck reports the health of the backing store
type StorageCheck func(ctx context.Context) map[string]interface{}

type SystemHandler struct {
	hub        *websocket.Hub
	app        config.AppConfig
	iceServers []webrtc.ICEServer
	storage    StorageCheck
	started    time.Time
}

func NewSystemHandler(hub *websocket.Hub, cfg *config.Config, storage StorageCheck) *SystemHandler {
	return &SystemHandler{
		hub:        hub,
		app:        cfg.App,
		iceServers: ICEServers(cfg.Call.ICEServers),
		storage:    storage,
		started:    time.Now(),
	}
}

// ICEServers converts the configured STUN/TURN entries into the shape
// RTCPeerConnection expects
func ICEServers(servers []config.ICEServerConfig) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

// HandleHealthCheck reports hub statistics and storage health
func (h *SystemHandler) HandleHealthCheck(c *gin.Context) {
	health := gin.H{
		"status":      "healthy",
		"version":     h.app.Version,
		"hub":         h.hub.GetStats(),
		"server_time": time.Now().UTC(),
		"uptime":      time.Since(h.started).Seconds(),
	}

	status := http.StatusOK
	if h.storage != nil {
		storage := h.storage(c.Request.Context())
		health["storage"] = storage
		if storage["status"] != "connected" {
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, health)
}

// GetICEServers returns the STUN/TURN servers clients should use
func (h *SystemHandler) GetICEServers(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"ice_servers": h.iceServers,
	})
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telecare/internal/config"
	"telecare/internal/middleware"
	"telecare/internal/models"
	"telecare/internal/services"
	"telecare/internal/store"
	"telecare/internal/utils"
	"telecare/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	patient  = models.Participant{UserID: "p1", Kind: models.KindPatient}
	doctor   = models.Participant{UserID: "d1", Kind: models.KindDoctor}
	outsider = models.Participant{UserID: "x1", Kind: models.KindPatient}
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	cfg       *config.Config
	hub       *websocket.Hub
	chat      *services.ChatService
	calls     *services.CallService
	signaling *services.SignalingService
	realtime  *RealtimeHandler
	validator *utils.TokenValidator
	router    *gin.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Version: "test"},
		Server: config.ServerConfig{
			WebSocket: config.WebSocketConfig{
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				PingPeriod:      time.Second,
				PongWait:        2 * time.Second,
				WriteWait:       time.Second,
				MaxMessageSize:  64 * 1024,
				SendBufferSize:  32,
			},
		},
		Security: config.SecurityConfig{
			JWT:       config.JWTConfig{Secret: "test-secret"},
			RateLimit: config.RateLimitConfig{Requests: 1000, Burst: 1000, WSMessagesPerMin: 1000, WSMaxConnsPerUser: 2},
		},
		Call: config.CallConfig{
			MeetingCodeLength:   6,
			MeetingCodeAlphabet: "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
			MeetingCodeRetries:  3,
			ICEServers: []config.ICEServerConfig{
				{URLs: []string{"stun:stun.example.org:3478"}},
				{URLs: []string{"turn:turn.example.org:3478"}, Username: "relay", Credential: "pw"},
			},
		},
		Chat: config.ChatConfig{MaxContentLength: 500},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := testConfig()
	mem := store.NewMemoryStore()
	hub := websocket.NewHub()
	chat := services.NewChatService(mem, hub, cfg.Chat)
	calls, err := services.NewCallService(mem, chat, hub, cfg.Call)
	require.NoError(t, err)
	signaling := services.NewSignalingService(calls, hub)

	s := &testServer{
		cfg:       cfg,
		hub:       hub,
		chat:      chat,
		calls:     calls,
		signaling: signaling,
		realtime:  NewRealtimeHandler(chat, signaling),
		validator: utils.NewTokenValidator(cfg.Security.JWT),
		router:    gin.New(),
	}

	chatHandler := NewChatHandler(chat)
	callHandler := NewCallHandler(calls)
	system := NewSystemHandler(hub, cfg, nil)
	ws := NewWebSocketHandler(context.Background(), hub, s.realtime, s.validator, cfg)

	s.router.GET("/health", system.HandleHealthCheck)
	s.router.GET("/ws", ws.HandleWebSocket)

	api := s.router.Group("/api/v1", middleware.JWTAuth(s.validator))
	api.GET("/ice-servers", system.GetICEServers)
	api.POST("/chats", chatHandler.StartChat)
	api.GET("/chats", chatHandler.ListThreads)
	api.GET("/chats/unread-count", chatHandler.UnreadCount)
	api.GET("/chats/:thread_id", chatHandler.GetThread)
	api.POST("/chats/:thread_id/messages", chatHandler.SendMessage)
	api.POST("/chats/:thread_id/messages/:message_id/read", chatHandler.MarkRead)
	api.POST("/calls", callHandler.CreateCall)
	api.GET("/calls/code/:code", callHandler.GetCallByCode)
	api.GET("/calls/:call_id", callHandler.GetCall)
	api.POST("/calls/:call_id/end", callHandler.EndCall)
	api.POST("/calls/:call_id/cancel", callHandler.CancelCall)

	return s
}

func (s *testServer) token(t *testing.T, p models.Participant) string {
	t.Helper()
	token, err := s.validator.Issue(p, time.Hour)
	require.NoError(t, err)
	return token
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
}

// do sends a request as p and decodes the response envelope into out when given
func (s *testServer) do(t *testing.T, p models.Participant, method, path string, body interface{}, out interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(t, p))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil && env.Success {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return w.Code, env
}

func (s *testServer) startChat(t *testing.T) models.ChatThread {
	t.Helper()
	var thread models.ChatThread
	code, _ := s.do(t, patient, http.MethodPost, "/api/v1/chats", startChatRequest{Participant: doctor}, &thread)
	require.Equal(t, http.StatusOK, code)
	return thread
}

func TestChatEndpoints(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)
	base := "/api/v1/chats/" + thread.ID.Hex()

	var again models.ChatThread
	code, _ := s.do(t, doctor, http.MethodPost, "/api/v1/chats", startChatRequest{Participant: patient}, &again)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, thread.ID, again.ID, "the pair maps to one thread")

	var msg models.Message
	code, _ = s.do(t, patient, http.MethodPost, base+"/messages", sendMessageRequest{Content: "my knee still hurts"}, &msg)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "d1", msg.ReceiverID)

	var unread struct {
		Count int64 `json:"count"`
	}
	code, _ = s.do(t, doctor, http.MethodGet, "/api/v1/chats/unread-count", nil, &unread)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, unread.Count)

	code, env := s.do(t, patient, http.MethodPost, base+"/messages/"+msg.ID.Hex()+"/read", nil, nil)
	assert.Equal(t, http.StatusForbidden, code, "only the receiver marks read")
	assert.Equal(t, services.CodeForbidden, env.Error.Code)

	var read struct {
		Changed bool `json:"changed"`
	}
	code, _ = s.do(t, doctor, http.MethodPost, base+"/messages/"+msg.ID.Hex()+"/read", nil, &read)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, read.Changed)

	var full models.ChatThread
	code, _ = s.do(t, doctor, http.MethodGet, base, nil, &full)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, full.Messages, 1)
	assert.True(t, full.Messages[0].Read)

	var threads []models.ChatThread
	code, _ = s.do(t, doctor, http.MethodGet, "/api/v1/chats", nil, &threads)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, threads, 1)
}

func TestChatEndpointErrors(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)

	tests := []struct {
		name   string
		as     models.Participant
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"outsider reads thread", outsider, http.MethodGet, "/api/v1/chats/" + thread.ID.Hex(), nil, http.StatusForbidden, services.CodeForbidden},
		{"malformed thread id", patient, http.MethodGet, "/api/v1/chats/nope", nil, http.StatusBadRequest, services.CodeBadRequest},
		{"unknown thread", patient, http.MethodGet, "/api/v1/chats/" + primitive.NewObjectID().Hex(), nil, http.StatusNotFound, services.CodeNotFound},
		{"empty content", patient, http.MethodPost, "/api/v1/chats/" + thread.ID.Hex() + "/messages", sendMessageRequest{Content: "  "}, http.StatusBadRequest, services.CodeBadRequest},
		{"call message from client", patient, http.MethodPost, "/api/v1/chats/" + thread.ID.Hex() + "/messages", sendMessageRequest{Content: "Video call ended", Type: models.MessageTypeCallEnded}, http.StatusBadRequest, services.CodeBadRequest},
		{"chat with self", patient, http.MethodPost, "/api/v1/chats", startChatRequest{Participant: patient}, http.StatusBadRequest, services.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.as, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestCallEndpoints(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)

	var call models.CallSession
	code, _ := s.do(t, patient, http.MethodPost, "/api/v1/calls", createCallRequest{ThreadID: thread.ID.Hex()}, &call)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, models.CallStatusPending, call.Status)

	var byCode models.CallSession
	code, _ = s.do(t, doctor, http.MethodGet, "/api/v1/calls/code/"+call.MeetingCode, nil, &byCode)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, call.ID, byCode.ID)

	code, _ = s.do(t, outsider, http.MethodGet, "/api/v1/calls/"+call.ID.Hex(), nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, doctor, http.MethodPost, "/api/v1/calls/"+call.ID.Hex()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusForbidden, code, "only the initiator cancels")
	assert.Equal(t, services.CodeForbidden, env.Error.Code)

	var ended transitionResponse
	code, env = s.do(t, doctor, http.MethodPost, "/api/v1/calls/"+call.ID.Hex()+"/end", nil, &ended)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, ended.Changed)
	assert.Equal(t, models.CallStatusEnded, ended.Call.Status)

	assert.Empty(t, env.Message)

	code, env = s.do(t, patient, http.MethodPost, "/api/v1/calls/"+call.ID.Hex()+"/end", nil, &ended)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, ended.Changed, "ending twice is a no-op")
	assert.Equal(t, "call already over", env.Message)

	code, env = s.do(t, patient, http.MethodPost, "/api/v1/calls/"+call.ID.Hex()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, services.CodeConflict, env.Error.Code)
}

func TestCancelPendingCall(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)

	var call models.CallSession
	code, _ := s.do(t, patient, http.MethodPost, "/api/v1/calls", createCallRequest{ThreadID: thread.ID.Hex()}, &call)
	require.Equal(t, http.StatusCreated, code)

	var cancelled transitionResponse
	code, _ = s.do(t, patient, http.MethodPost, "/api/v1/calls/"+call.ID.Hex()+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, cancelled.Changed)
	assert.Equal(t, models.CallStatusCancelled, cancelled.Call.Status)

	code, _ = s.do(t, patient, http.MethodPost, "/api/v1/calls", createCallRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestICEServers(t *testing.T) {
	s := newTestServer(t)

	var out struct {
		ICEServers []struct {
			URLs     []string `json:"urls"`
			Username string   `json:"username"`
		} `json:"ice_servers"`
	}
	code, _ := s.do(t, patient, http.MethodGet, "/api/v1/ice-servers", nil, &out)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, out.ICEServers[0].URLs)
	assert.Equal(t, "relay", out.ICEServers[1].Username)
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	c := websocket.NewClient(nil, "p1", models.KindPatient, websocket.ClientOptions{})
	s.hub.Register(c)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string             `json:"status"`
		Hub    websocket.HubStats `json:"hub"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Hub.TotalClients)
}

func TestHealthCheckReportsStorage(t *testing.T) {
	s := newTestServer(t)
	system := NewSystemHandler(s.hub, s.cfg, func(context.Context) map[string]interface{} {
		return map[string]interface{}{"status": "error"}
	})

	router := gin.New()
	router.GET("/health", system.HandleHealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

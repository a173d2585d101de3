package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecare/internal/models"
	"telecare/internal/services"
	"telecare/internal/websocket"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) client(p models.Participant) *websocket.Client {
	c := websocket.NewClient(nil, p.UserID, p.Kind, websocket.ClientOptions{SendBufferSize: 32})
	s.hub.Register(c)
	return c
}

func (s *testServer) dispatch(t *testing.T, c *websocket.Client, frame string) {
	t.Helper()
	cmd, err := websocket.DecodeCommand([]byte(frame))
	require.NoError(t, err)
	s.realtime.Dispatch(context.Background(), c, cmd)
}

func next(t *testing.T, c *websocket.Client) *websocket.WSMessage {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		return msg
	default:
		t.Fatal("no message queued")
		return nil
	}
}

func queuedTypes(c *websocket.Client) []websocket.MessageType {
	var types []websocket.MessageType
	for {
		select {
		case msg := <-c.Outbound():
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func assertQuiet(t *testing.T, c *websocket.Client) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected %s message", msg.Type)
	default:
	}
}

func TestDispatchJoinChatAndSendMessage(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)
	tid := thread.ID.Hex()

	pc := s.client(patient)
	dc := s.client(doctor)

	s.dispatch(t, pc, `{"type":"join_chat","request_id":"r1","data":{"thread_id":"`+tid+`"}}`)
	reply := next(t, pc)
	assert.Equal(t, websocket.MessageTypeChatJoined, reply.Type)
	assert.Equal(t, "r1", reply.RequestID)
	assert.Empty(t, reply.Data.(*websocket.ChatJoinedPayload).Members)

	s.dispatch(t, dc, `{"type":"join_chat","data":{"thread_id":"`+tid+`"}}`)
	joined := next(t, dc).Data.(*websocket.ChatJoinedPayload)
	require.Len(t, joined.Members, 1)
	assert.Equal(t, pc.ID, joined.Members[0].ConnectionID)

	s.dispatch(t, pc, `{"type":"send_message","request_id":"r2","data":{"thread_id":"`+tid+`","content":"hello doctor"}}`)

	ackMsg := next(t, pc)
	assert.Equal(t, websocket.MessageTypeAck, ackMsg.Type)
	assert.Equal(t, "r2", ackMsg.RequestID)
	assertQuiet(t, pc)

	delivered := next(t, dc)
	require.Equal(t, websocket.MessageTypeMessage, delivered.Type)
	assert.Equal(t, "hello doctor", delivered.Data.(*websocket.MessagePayload).Message.Content)
	assert.Equal(t, websocket.MessageTypeUnreadCount, next(t, dc).Type)
}

func TestDispatchRejectsOutsider(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)

	pc := s.client(patient)
	s.dispatch(t, pc, `{"type":"join_chat","data":{"thread_id":"`+thread.ID.Hex()+`"}}`)
	next(t, pc)

	xc := s.client(outsider)
	s.dispatch(t, xc, `{"type":"send_message","request_id":"r9","data":{"thread_id":"`+thread.ID.Hex()+`","content":"hi"}}`)

	errMsg := next(t, xc)
	require.Equal(t, websocket.MessageTypeError, errMsg.Type)
	assert.Equal(t, "r9", errMsg.RequestID)
	payload := errMsg.Data.(*websocket.ErrorPayload)
	assert.Equal(t, services.CodeForbidden, payload.Code)
	assert.Equal(t, websocket.MessageTypeSendMessage, payload.For)
	assert.False(t, payload.Retryable)

	assertQuiet(t, pc)
}

func TestDispatchSendsToCounterpartWithoutThread(t *testing.T) {
	s := newTestServer(t)
	pc := s.client(patient)
	dc := s.client(doctor)

	s.dispatch(t, pc, `{"type":"send_message","request_id":"r1","data":{"to":{"user_id":"d1","kind":"doctor"},"content":"first contact"}}`)
	ackMsg := next(t, pc)
	require.Equal(t, websocket.MessageTypeAck, ackMsg.Type)
	msg := ackMsg.Data.(*websocket.AckPayload).Result.(*models.Message)
	assert.Equal(t, "d1", msg.ReceiverID)

	// not in the chat room yet, so only the unread count arrives
	assert.Equal(t, websocket.MessageTypeUnreadCount, next(t, dc).Type)

	threads, err := s.chat.ListThreads(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestDispatchCallFlow(t *testing.T) {
	s := newTestServer(t)
	thread := s.startChat(t)
	call, err := s.calls.Create(context.Background(), services.Actor{UserID: patient.UserID, Kind: patient.Kind}, thread.ID.Hex())
	require.NoError(t, err)
	cid := call.ID.Hex()

	pc := s.client(patient)
	dc := s.client(doctor)

	s.dispatch(t, pc, `{"type":"join_call","request_id":"j1","data":{"call_id":"`+cid+`"}}`)
	current := next(t, pc)
	require.Equal(t, websocket.MessageTypeCurrentParticipants, current.Type)
	assert.Empty(t, current.Data.(*websocket.ParticipantsPayload).Participants)

	s.dispatch(t, dc, `{"type":"join_call","data":{"meeting_code":"`+strings.ToLower(call.MeetingCode)+`"}}`)
	current = next(t, dc)
	participants := current.Data.(*websocket.ParticipantsPayload)
	require.Len(t, participants.Participants, 1)
	assert.Equal(t, models.CallStatusActive, participants.Session.Status)

	peer := next(t, pc)
	require.Equal(t, websocket.MessageTypePeerJoined, peer.Type)
	assert.Equal(t, dc.ID, peer.Data.(*websocket.PeerPayload).ConnectionID)

	sdp, err := json.Marshal(map[string]string{
		"type": "offer",
		"sdp":  "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n",
	})
	require.NoError(t, err)
	s.dispatch(t, pc, `{"type":"webrtc_offer","data":{"call_id":"`+cid+`","target_connection_id":"`+dc.ID+`","payload":`+string(sdp)+`}}`)
	offer := next(t, dc)
	require.Equal(t, websocket.MessageTypeOfferReceived, offer.Type)
	assert.Equal(t, pc.ID, offer.Data.(*websocket.SignalPayload).FromConnectionID)
	assertQuiet(t, pc)

	s.dispatch(t, dc, `{"type":"end_call","request_id":"e1","data":{"call_id":"`+cid+`"}}`)

	assert.Contains(t, queuedTypes(pc), websocket.MessageTypeCallEnded)
	doctorTypes := queuedTypes(dc)
	assert.Contains(t, doctorTypes, websocket.MessageTypeCallEnded)
	assert.Equal(t, websocket.MessageTypeAck, doctorTypes[len(doctorTypes)-1])
	assert.Empty(t, pc.Rooms())

	s.dispatch(t, pc, `{"type":"join_call","request_id":"j2","data":{"call_id":"`+cid+`"}}`)
	errMsg := next(t, pc)
	require.Equal(t, websocket.MessageTypeError, errMsg.Type)
	assert.Equal(t, services.CodeCallEnded, errMsg.Data.(*websocket.ErrorPayload).Code)
}

func TestDispatchHeartbeat(t *testing.T) {
	s := newTestServer(t)
	c := s.client(patient)

	s.dispatch(t, c, `{"type":"heartbeat","request_id":"h1"}`)
	reply := next(t, c)
	assert.Equal(t, websocket.MessageTypeHeartbeat, reply.Type)
	assert.Equal(t, "h1", reply.RequestID)

	s.dispatch(t, c, `{"type":"leave_chat","data":{"thread_id":"`+strings.Repeat("a", 24)+`"}}`)
	assertQuiet(t, c)
}

func TestWebSocketEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := gorillaws.DefaultDialer.Dial(url+"?token="+s.token(t, patient), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var connected struct {
		Type string `json:"type"`
		Data struct {
			ConnectionID string `json:"connection_id"`
			UserID       string `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&connected))
	assert.Equal(t, "connected", connected.Type)
	assert.Equal(t, "p1", connected.Data.UserID)
	assert.True(t, s.hub.IsRegistered(connected.Data.ConnectionID))

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"heartbeat","request_id":"h1"}`)))
	var hb struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, conn.ReadJSON(&hb))
	assert.Equal(t, "heartbeat", hb.Type)
	assert.Equal(t, "h1", hb.RequestID)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"dance"}`)))
	var bad struct {
		Type string `json:"type"`
		Data struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "error", bad.Type)
	assert.Equal(t, services.CodeBadRequest, bad.Data.Code)

	conn.Close()
	assert.Eventually(t, func() bool {
		return !s.hub.IsRegistered(connected.Data.ConnectionID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketConnectionLimit(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + s.token(t, doctor)

	for i := 0; i < s.cfg.Security.RateLimit.WSMaxConnsPerUser; i++ {
		conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
	}

	assert.Eventually(t, func() bool {
		return s.hub.UserConnectionCount("d1") == s.cfg.Security.RateLimit.WSMaxConnsPerUser
	}, time.Second, 10*time.Millisecond)

	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telecare/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageType names a frame on the wire. The set is closed: every type has
// exactly one payload struct below.
type MessageType string

const (
	// Client to server
	MessageTypeJoinChat        MessageType = "join_chat"
	MessageTypeLeaveChat       MessageType = "leave_chat"
	MessageTypeSendMessage     MessageType = "send_message"
	MessageTypeTyping          MessageType = "typing"
	MessageTypeStopTyping      MessageType = "stop_typing"
	MessageTypeMarkRead        MessageType = "mark_read"
	MessageTypeJoinCall        MessageType = "join_call"
	MessageTypeOffer           MessageType = "webrtc_offer"
	MessageTypeAnswer          MessageType = "webrtc_answer"
	MessageTypeICECandidate    MessageType = "webrtc_ice_candidate"
	MessageTypeCallStateChange MessageType = "call_state_change"
	MessageTypeLeaveCall       MessageType = "leave_call"
	MessageTypeEndCall         MessageType = "end_call"
	MessageTypeHeartbeat       MessageType = "heartbeat"

	// Server to client (typing, stop_typing and heartbeat are reused)
	MessageTypeConnected            MessageType = "connected"
	MessageTypeAck                  MessageType = "ack"
	MessageTypeError                MessageType = "error"
	MessageTypeMessage              MessageType = "message"
	MessageTypeMessageRead          MessageType = "message_read"
	MessageTypeUnreadCount          MessageType = "unread_count"
	MessageTypeChatJoined           MessageType = "chat_joined"
	MessageTypePeerJoined           MessageType = "peer_joined"
	MessageTypeCurrentParticipants  MessageType = "current_participants"
	MessageTypeOfferReceived        MessageType = "offer_received"
	MessageTypeAnswerReceived       MessageType = "answer_received"
	MessageTypeICECandidateReceived MessageType = "ice_candidate_received"
	MessageTypeCallStateChanged     MessageType = "call_state_changed"
	MessageTypePeerLeft             MessageType = "peer_left"
	MessageTypeCallEnded            MessageType = "call_ended"
)

// WSMessage is an outbound frame. Data holds one of the payload structs.
type WSMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewWSMessage creates a new outbound message
func NewWSMessage(msgType MessageType, data interface{}) *WSMessage {
	return &WSMessage{
		ID:        primitive.NewObjectID().Hex(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts message to JSON bytes
func (msg *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(msg)
}

// Reply sets the request id the message answers
func (msg *WSMessage) Reply(requestID string) *WSMessage {
	msg.RequestID = requestID
	return msg
}

// Inbound payloads

type ChatRoomRequest struct {
	ThreadID string `json:"thread_id"`
}

// SendMessageRequest addresses an existing thread, or a counterpart through To
// when no thread exists yet
type SendMessageRequest struct {
	ThreadID string              `json:"thread_id,omitempty"`
	To       *models.Participant `json:"to,omitempty"`
	Content  string              `json:"content"`
	Type     models.MessageType  `json:"type,omitempty"`
}

type MarkReadRequest struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// JoinCallRequest addresses a call by id or by meeting code
type JoinCallRequest struct {
	CallID      string `json:"call_id,omitempty"`
	MeetingCode string `json:"meeting_code,omitempty"`
}

type SignalRequest struct {
	TargetConnectionID string          `json:"target_connection_id"`
	CallID             string          `json:"call_id"`
	Payload            json.RawMessage `json:"payload"`
}

type CallStateRequest struct {
	CallID string `json:"call_id"`
	State  string `json:"state"`
}

type CallRequest struct {
	CallID string `json:"call_id"`
}

type HeartbeatRequest struct{}

// Outbound payloads

type ConnectedPayload struct {
	ConnectionID string                 `json:"connection_id"`
	UserID       string                 `json:"user_id"`
	Kind         models.ParticipantKind `json:"kind"`
	ServerTime   time.Time              `json:"server_time"`
}

type AckPayload struct {
	For    MessageType `json:"for"`
	Result interface{} `json:"result,omitempty"`
}

type ErrorPayload struct {
	For       MessageType `json:"for,omitempty"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

type MessagePayload struct {
	ThreadID string         `json:"thread_id"`
	Message  models.Message `json:"message"`
}

type TypingPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

type MessageReadPayload struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

type UnreadCountPayload struct {
	Count int64 `json:"count"`
}

type ChatJoinedPayload struct {
	ThreadID string   `json:"thread_id"`
	Members  []Member `json:"members"`
}

// PeerPayload announces a connection entering or leaving a call room
type PeerPayload struct {
	CallID       string                 `json:"call_id"`
	ConnectionID string                 `json:"connection_id"`
	UserID       string                 `json:"user_id"`
	Kind         models.ParticipantKind `json:"kind,omitempty"`
}

type ParticipantsPayload struct {
	CallID       string              `json:"call_id"`
	Participants []Member            `json:"participants"`
	Session      *models.CallSession `json:"session,omitempty"`
}

// SignalPayload carries an offer, answer or ICE candidate to its target
type SignalPayload struct {
	CallID           string          `json:"call_id"`
	FromConnectionID string          `json:"from_connection_id"`
	FromUserID       string          `json:"from_user_id"`
	Payload          json.RawMessage `json:"payload"`
}

type CallStatePayload struct {
	CallID string `json:"call_id"`
	State  string `json:"state"`
	From   string `json:"from"`
}

type CallEndedPayload struct {
	CallID   string            `json:"call_id"`
	Status   models.CallStatus `json:"status"`
	EndedBy  string            `json:"ended_by,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Duration int64             `json:"duration"`
}

type HeartbeatPayload struct {
	ServerTime time.Time `json:"server_time"`
	Uptime     float64   `json:"uptime"`
}

// Command is a decoded inbound frame. Payload is the request struct that
// belongs to Type.
type Command struct {
	Type      MessageType
	RequestID string
	Payload   interface{}
}

type inboundFrame struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var (
	ErrMissingType  = errors.New("message type is required")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidFrame = errors.New("invalid message format")
)

// DecodeCommand parses an inbound frame into a typed command
func DecodeCommand(data []byte) (*Command, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if frame.Type == "" {
		return nil, ErrMissingType
	}

	var payload interface{}
	switch frame.Type {
	case MessageTypeJoinChat, MessageTypeLeaveChat, MessageTypeTyping, MessageTypeStopTyping:
		payload = &ChatRoomRequest{}
	case MessageTypeSendMessage:
		payload = &SendMessageRequest{}
	case MessageTypeMarkRead:
		payload = &MarkReadRequest{}
	case MessageTypeJoinCall:
		payload = &JoinCallRequest{}
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		payload = &SignalRequest{}
	case MessageTypeCallStateChange:
		payload = &CallStateRequest{}
	case MessageTypeLeaveCall, MessageTypeEndCall:
		payload = &CallRequest{}
	case MessageTypeHeartbeat:
		payload = &HeartbeatRequest{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, frame.Type)
	}

	if len(frame.Data) > 0 && string(frame.Data) != "null" {
		if err := json.Unmarshal(frame.Data, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	}

	return &Command{
		Type:      frame.Type,
		RequestID: frame.RequestID,
		Payload:   payload,
	}, nil
}

package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"telecare/internal/config"
	"telecare/internal/models"
	"telecare/internal/store"
	"telecare/internal/websocket"
	"telecare/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatService relays chat messages and typing indicators within chat rooms
// and writes messages through to the thread store
type ChatService struct {
	threads          store.ChatStore
	hub              *websocket.Hub
	maxContentLength int
}

// SendInput is a message submitted by a participant
type SendInput struct {
	ThreadID string
	Content  string
	Type     models.MessageType
}

func NewChatService(threads store.ChatStore, hub *websocket.Hub, cfg config.ChatConfig) *ChatService {
	return &ChatService{
		threads:          threads,
		hub:              hub,
		maxContentLength: cfg.MaxContentLength,
	}
}

// Thread Management

// StartChat returns the thread between the actor and the other participant,
// creating it on first use
func (s *ChatService) StartChat(ctx context.Context, actor Actor, other models.Participant) (*models.ChatThread, error) {
	me := actor.Participant()
	if err := validateParticipant(me); err != nil {
		return nil, err
	}
	if err := validateParticipant(other); err != nil {
		return nil, err
	}
	if me.UserID == other.UserID {
		return nil, invalid("cannot start a chat with yourself")
	}

	thread, err := s.threads.EnsureThread(ctx, me, other)
	if err != nil {
		logger.LogError(err, "Failed to ensure chat thread", map[string]interface{}{
			"user_id":  me.UserID,
			"other_id": other.UserID,
		})
		return nil, storeError(err, ErrThreadNotFound)
	}
	return thread, nil
}

// GetThread returns the thread with its ordered messages to a participant
func (s *ChatService) GetThread(ctx context.Context, userID, threadID string) (*models.ChatThread, error) {
	id, err := parseID(threadID, "thread_id")
	if err != nil {
		return nil, err
	}
	return s.authorizedThread(ctx, userID, id)
}

// ListThreads returns the threads of a user, most recently updated first
func (s *ChatService) ListThreads(ctx context.Context, userID string) ([]models.ChatThread, error) {
	threads, err := s.threads.ListThreads(ctx, userID)
	if err != nil {
		return nil, storeError(err, ErrThreadNotFound)
	}
	return threads, nil
}

func (s *ChatService) authorizedThread(ctx context.Context, userID string, id primitive.ObjectID) (*models.ChatThread, error) {
	thread, err := s.threads.GetThread(ctx, id)
	if err != nil {
		return nil, storeError(err, ErrThreadNotFound)
	}
	if !thread.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return thread, nil
}

// Chat Rooms

// JoinChat adds the actor's connection to the thread's chat room and returns
// who was already there
func (s *ChatService) JoinChat(ctx context.Context, actor Actor, threadID string) ([]websocket.Member, error) {
	thread, err := s.GetThread(ctx, actor.UserID, threadID)
	if err != nil {
		return nil, err
	}

	existing, joined, err := s.hub.Join(actor.ConnectionID, websocket.ChatRoomID(thread.ID.Hex()))
	if err != nil {
		return nil, err
	}
	if joined {
		logger.LogChatEvent("joined", thread.ID.Hex(), actor.UserID, map[string]interface{}{
			"connection_id": actor.ConnectionID,
		})
	}
	return existing, nil
}

// LeaveChat removes the actor's connection from the chat room
func (s *ChatService) LeaveChat(actor Actor, threadID string) error {
	id, err := parseID(threadID, "thread_id")
	if err != nil {
		return err
	}
	s.hub.Leave(actor.ConnectionID, websocket.ChatRoomID(id.Hex()))
	return nil
}

// Messages

// SendMessage appends a message to the thread and then fans it out to the
// chat room, never echoing it to the sending connection
func (s *ChatService) SendMessage(ctx context.Context, actor Actor, in SendInput) (*models.Message, error) {
	id, err := parseID(in.ThreadID, "thread_id")
	if err != nil {
		return nil, err
	}

	content, err := s.validateInput(in)
	if err != nil {
		return nil, err
	}

	thread, err := s.authorizedThread(ctx, actor.UserID, id)
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, thread, actor, models.MessageTypeText, content, nil)
}

// SendMessageTo sends a text message to another participant, creating the
// thread between them if it does not exist yet
func (s *ChatService) SendMessageTo(ctx context.Context, actor Actor, to models.Participant, content string) (*models.Message, error) {
	thread, err := s.StartChat(ctx, actor, to)
	if err != nil {
		return nil, err
	}

	content, err = s.validateInput(SendInput{Content: content})
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, thread, actor, models.MessageTypeText, content, nil)
}

// AppendSystemMessage records a call lifecycle entry in the thread on behalf
// of actorID and broadcasts it to the whole chat room
func (s *ChatService) AppendSystemMessage(ctx context.Context, threadID primitive.ObjectID, actorID string, msgType models.MessageType, content string, callID primitive.ObjectID) (*models.Message, error) {
	thread, err := s.authorizedThread(ctx, actorID, threadID)
	if err != nil {
		return nil, err
	}
	sender, _ := thread.Participant(actorID)

	return s.deliver(ctx, thread, Actor{UserID: sender.UserID, Kind: sender.Kind}, msgType, content, &callID)
}

func (s *ChatService) deliver(ctx context.Context, thread *models.ChatThread, actor Actor, msgType models.MessageType, content string, callID *primitive.ObjectID) (*models.Message, error) {
	sender, _ := thread.Participant(actor.UserID)
	receiver, _ := thread.Counterpart(actor.UserID)

	msg := models.Message{
		ID:           primitive.NewObjectID(),
		SenderID:     sender.UserID,
		SenderKind:   sender.Kind,
		ReceiverID:   receiver.UserID,
		ReceiverKind: receiver.Kind,
		Content:      content,
		Type:         msgType,
		CallID:       callID,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.threads.AppendMessage(ctx, thread.ID, msg); err != nil {
		logger.LogError(err, "Failed to append chat message", map[string]interface{}{
			"thread_id": thread.ID.Hex(),
			"sender_id": sender.UserID,
			"type":      msgType,
		})
		return nil, storeError(err, ErrThreadNotFound)
	}

	threadID := thread.ID.Hex()
	s.hub.Broadcast(websocket.ChatRoomID(threadID), websocket.NewWSMessage(websocket.MessageTypeMessage, &websocket.MessagePayload{
		ThreadID: threadID,
		Message:  msg,
	}), actor.ConnectionID)

	s.pushUnreadCount(ctx, receiver.UserID)

	logger.LogChatEvent("message_sent", threadID, sender.UserID, map[string]interface{}{
		"message_id":     msg.ID.Hex(),
		"message_type":   msgType,
		"content_length": len(content),
	})

	return &msg, nil
}

// SetTyping relays a typing indicator to the rest of the chat room. The
// connection must have joined the room.
func (s *ChatService) SetTyping(actor Actor, threadID string, typing bool) error {
	id, err := parseID(threadID, "thread_id")
	if err != nil {
		return err
	}

	roomID := websocket.ChatRoomID(id.Hex())
	if !s.hub.IsMember(actor.ConnectionID, roomID) {
		return ErrNotParticipant
	}

	msgType := websocket.MessageTypeStopTyping
	if typing {
		msgType = websocket.MessageTypeTyping
	}
	s.hub.Broadcast(roomID, websocket.NewWSMessage(msgType, &websocket.TypingPayload{
		ThreadID: id.Hex(),
		UserID:   actor.UserID,
	}), actor.ConnectionID)
	return nil
}

// Read State

// MarkRead flips the read flag of a message. Only its receiver may do so.
// It reports whether the flag changed; the sender is notified when it did.
func (s *ChatService) MarkRead(ctx context.Context, actor Actor, threadID, messageID string) (bool, error) {
	tid, err := parseID(threadID, "thread_id")
	if err != nil {
		return false, err
	}
	mid, err := parseID(messageID, "message_id")
	if err != nil {
		return false, err
	}

	thread, err := s.authorizedThread(ctx, actor.UserID, tid)
	if err != nil {
		return false, err
	}

	msg, ok := thread.Message(mid)
	if !ok {
		return false, ErrMessageNotFound
	}
	if msg.ReceiverID != actor.UserID {
		return false, ErrNotReceiver
	}

	changed, err := s.threads.MarkRead(ctx, tid, mid, actor.UserID)
	if err != nil {
		return false, storeError(err, ErrMessageNotFound)
	}

	if changed {
		s.hub.SendToUser(msg.SenderID, websocket.NewWSMessage(websocket.MessageTypeMessageRead, &websocket.MessageReadPayload{
			ThreadID:  tid.Hex(),
			MessageID: mid.Hex(),
			ReaderID:  actor.UserID,
		}))
		s.pushUnreadCount(ctx, actor.UserID)
	}

	return changed, nil
}

// UnreadCount counts messages received by userID that are still unread
func (s *ChatService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.threads.CountUnread(ctx, userID)
	if err != nil {
		return 0, storeError(err, ErrThreadNotFound)
	}
	return count, nil
}

func (s *ChatService) pushUnreadCount(ctx context.Context, userID string) {
	if s.hub.UserConnectionCount(userID) == 0 {
		return
	}

	count, err := s.threads.CountUnread(ctx, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Failed to count unread messages")
		return
	}
	s.hub.SendToUser(userID, websocket.NewWSMessage(websocket.MessageTypeUnreadCount, &websocket.UnreadCountPayload{Count: count}))
}

// Validation

// validateInput checks a participant-submitted message. Participants only send
// text; call messages are appended by the call lifecycle.
func (s *ChatService) validateInput(in SendInput) (string, error) {
	switch {
	case in.Type == "" || in.Type == models.MessageTypeText:
	case in.Type.IsCallRelated():
		return "", invalid("%s messages are generated by the server", in.Type)
	default:
		return "", invalid("unknown message type %q", in.Type)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return "", invalid("content is required")
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(content) > s.maxContentLength {
		return "", invalid("content exceeds %d characters", s.maxContentLength)
	}

	return content, nil
}

func validateParticipant(p models.Participant) error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidParticipant
	}
	if !p.Kind.Valid() {
		return ErrInvalidParticipant
	}
	return nil
}

package handlers

import (
	"context"
	"time"

	"telecare/internal/services"
	"telecare/internal/websocket"
	"telecare/pkg/logger"

	"github.com/sirupsen/logrus"
)

// RealtimeHandler turns inbound WebSocket commands into service calls. Every
// failure goes back to the originating connection only.
type RealtimeHandler struct {
	chat      *services.ChatService
	signaling *services.SignalingService
	started   time.Time
}

func NewRealtimeHandler(chat *services.ChatService, signaling *services.SignalingService) *RealtimeHandler {
	return &RealtimeHandler{
		chat:      chat,
		signaling: signaling,
		started:   time.Now(),
	}
}

// Dispatch runs one command on behalf of the client
func (h *RealtimeHandler) Dispatch(ctx context.Context, c *websocket.Client, cmd *websocket.Command) {
	actor := services.Actor{UserID: c.UserID, Kind: c.Kind, ConnectionID: c.ID}

	reply, err := h.handle(ctx, actor, cmd)
	if err != nil {
		code, retryable := services.Classify(err)
		message := err.Error()
		if code == services.CodeInternal {
			message = "internal error"
		}

		logger.WithFields(logrus.Fields{
			"connection_id": c.ID,
			"user_id":       c.UserID,
			"command":       cmd.Type,
			"code":          code,
			"error":         err.Error(),
		}).Debug("Command rejected")

		c.SendError(cmd.Type, cmd.RequestID, code, message, retryable)
		return
	}

	if reply == nil {
		if cmd.RequestID == "" {
			return
		}
		reply = websocket.NewWSMessage(websocket.MessageTypeAck, &websocket.AckPayload{For: cmd.Type})
	}

	if err := c.SendMessage(reply.Reply(cmd.RequestID)); err != nil {
		logger.WithError(err).WithField("connection_id", c.ID).Debug("Reply not queued")
	}
}

// Disconnected announces the connection's departure from its call rooms
func (h *RealtimeHandler) Disconnected(c *websocket.Client, departures []websocket.Departure) {
	h.signaling.Disconnected(c.Member(), departures)
}

// handle returns the direct reply to the command, or nil when an ack suffices
func (h *RealtimeHandler) handle(ctx context.Context, actor services.Actor, cmd *websocket.Command) (*websocket.WSMessage, error) {
	switch req := cmd.Payload.(type) {
	case *websocket.ChatRoomRequest:
		switch cmd.Type {
		case websocket.MessageTypeJoinChat:
			members, err := h.chat.JoinChat(ctx, actor, req.ThreadID)
			if err != nil {
				return nil, err
			}
			return websocket.NewWSMessage(websocket.MessageTypeChatJoined, &websocket.ChatJoinedPayload{
				ThreadID: req.ThreadID,
				Members:  members,
			}), nil
		case websocket.MessageTypeLeaveChat:
			return nil, h.chat.LeaveChat(actor, req.ThreadID)
		case websocket.MessageTypeTyping:
			return nil, h.chat.SetTyping(actor, req.ThreadID, true)
		case websocket.MessageTypeStopTyping:
			return nil, h.chat.SetTyping(actor, req.ThreadID, false)
		}

	case *websocket.SendMessageRequest:
		if req.ThreadID == "" && req.To != nil {
			msg, err := h.chat.SendMessageTo(ctx, actor, *req.To, req.Content)
			if err != nil {
				return nil, err
			}
			return ack(cmd.Type, msg), nil
		}

		msg, err := h.chat.SendMessage(ctx, actor, services.SendInput{
			ThreadID: req.ThreadID,
			Content:  req.Content,
			Type:     req.Type,
		})
		if err != nil {
			return nil, err
		}
		return ack(cmd.Type, msg), nil

	case *websocket.MarkReadRequest:
		changed, err := h.chat.MarkRead(ctx, actor, req.ThreadID, req.MessageID)
		if err != nil {
			return nil, err
		}
		return ack(cmd.Type, map[string]bool{"changed": changed}), nil

	case *websocket.JoinCallRequest:
		participants, err := h.signaling.JoinCall(ctx, actor, req.CallID, req.MeetingCode)
		if err != nil {
			return nil, err
		}
		return websocket.NewWSMessage(websocket.MessageTypeCurrentParticipants, participants), nil

	case *websocket.SignalRequest:
		return nil, h.signaling.Relay(actor, cmd.Type, req)

	case *websocket.CallStateRequest:
		return nil, h.signaling.CallStateChange(actor, req.CallID, req.State)

	case *websocket.CallRequest:
		switch cmd.Type {
		case websocket.MessageTypeLeaveCall:
			return nil, h.signaling.LeaveCall(actor, req.CallID)
		case websocket.MessageTypeEndCall:
			call, err := h.signaling.EndCall(ctx, actor, req.CallID)
			if err != nil {
				return nil, err
			}
			return ack(cmd.Type, call), nil
		}

	case *websocket.HeartbeatRequest:
		return websocket.NewWSMessage(websocket.MessageTypeHeartbeat, &websocket.HeartbeatPayload{
			ServerTime: time.Now().UTC(),
			Uptime:     time.Since(h.started).Seconds(),
		}), nil
	}

	return nil, services.ErrInvalidPayload
}

func ack(t websocket.MessageType, result interface{}) *websocket.WSMessage {
	return websocket.NewWSMessage(websocket.MessageTypeAck, &websocket.AckPayload{For: t, Result: result})
}

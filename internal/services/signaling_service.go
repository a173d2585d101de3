package services

import (
	"context"
	"encoding/json"
	"strings"

	"telecare/internal/models"
	"telecare/internal/websocket"
	"telecare/pkg/logger"

	"github.com/pion/webrtc/v4"
)

const maxCallStateLength = 64

// SignalingService brokers offer, answer and ICE candidate exchange between
// connections in the same call room. It keeps no state of its own.
type SignalingService struct {
	calls *CallService
	hub   *websocket.Hub
}

func NewSignalingService(calls *CallService, hub *websocket.Hub) *SignalingService {
	return &SignalingService{calls: calls, hub: hub}
}

// JoinCall admits the actor's connection to the call room. Members already
// present are told about the newcomer, and the newcomer gets the list of
// members already present.
func (s *SignalingService) JoinCall(ctx context.Context, actor Actor, callID, code string) (*websocket.ParticipantsPayload, error) {
	call, err := s.calls.Admit(ctx, actor, callID, code)
	if err != nil {
		logger.LogCallEvent("join_rejected", callID, actor.UserID, map[string]interface{}{
			"meeting_code": code,
			"error":        err.Error(),
		})
		return nil, err
	}

	id := call.ID.Hex()
	roomID := websocket.CallRoomID(id)

	existing, joined, err := s.hub.Join(actor.ConnectionID, roomID)
	if err != nil {
		return nil, err
	}

	// An End landing between admission and the join evicts the room before
	// this connection is in it, so check the session again now that it is.
	call, err = s.calls.Current(ctx, call.ID)
	if err == nil && !call.Status.Joinable() {
		err = ErrCallNotJoinable
	}
	if err != nil {
		s.hub.Leave(actor.ConnectionID, roomID)
		logger.LogCallEvent("join_rejected", id, actor.UserID, map[string]interface{}{
			"connection_id": actor.ConnectionID,
			"error":         err.Error(),
		})
		return nil, err
	}

	if joined && len(existing) > 0 {
		s.hub.Broadcast(roomID, websocket.NewWSMessage(websocket.MessageTypePeerJoined, &websocket.PeerPayload{
			CallID:       id,
			ConnectionID: actor.ConnectionID,
			UserID:       actor.UserID,
			Kind:         actor.Kind,
		}), actor.ConnectionID)
	}

	if joined {
		logger.LogCallEvent("joined", id, actor.UserID, map[string]interface{}{
			"connection_id": actor.ConnectionID,
			"peers":         len(existing),
			"status":        call.Status,
		})
	}

	return &websocket.ParticipantsPayload{
		CallID:       id,
		Participants: existing,
		Session:      call,
	}, nil
}

// Relay forwards a signaling payload to exactly one target connection in the
// same call room. kind is one of the offer, answer or ICE candidate types.
func (s *SignalingService) Relay(actor Actor, kind websocket.MessageType, req *websocket.SignalRequest) error {
	callID, err := parseID(req.CallID, "call_id")
	if err != nil {
		return err
	}
	if req.TargetConnectionID == "" {
		return invalid("target_connection_id is required")
	}
	if req.TargetConnectionID == actor.ConnectionID {
		return invalid("cannot signal your own connection")
	}

	outType, err := validateSignal(kind, req.Payload)
	if err != nil {
		return err
	}

	id := callID.Hex()
	roomID := websocket.CallRoomID(id)
	if !s.hub.IsMember(actor.ConnectionID, roomID) {
		return ErrNotParticipant
	}

	if !s.hub.IsMember(req.TargetConnectionID, roomID) {
		s.logDropped(id, actor, kind, req.TargetConnectionID)
		return ErrTargetNotConnected
	}

	delivered := s.hub.SendTo(req.TargetConnectionID, websocket.NewWSMessage(outType, &websocket.SignalPayload{
		CallID:           id,
		FromConnectionID: actor.ConnectionID,
		FromUserID:       actor.UserID,
		Payload:          req.Payload,
	}))
	if !delivered {
		s.logDropped(id, actor, kind, req.TargetConnectionID)
		return ErrTargetNotConnected
	}

	return nil
}

// CallStateChange broadcasts a client-defined state such as "muted" to the
// rest of the call room. The session status is untouched.
func (s *SignalingService) CallStateChange(actor Actor, callID, state string) error {
	id, err := parseID(callID, "call_id")
	if err != nil {
		return err
	}

	state = strings.TrimSpace(state)
	if state == "" || len(state) > maxCallStateLength {
		return invalid("state must be between 1 and %d characters", maxCallStateLength)
	}

	roomID := websocket.CallRoomID(id.Hex())
	if !s.hub.IsMember(actor.ConnectionID, roomID) {
		return ErrNotParticipant
	}

	s.hub.Broadcast(roomID, websocket.NewWSMessage(websocket.MessageTypeCallStateChanged, &websocket.CallStatePayload{
		CallID: id.Hex(),
		State:  state,
		From:   actor.ConnectionID,
	}), actor.ConnectionID)
	return nil
}

// LeaveCall removes the connection from the call room without ending the call
func (s *SignalingService) LeaveCall(actor Actor, callID string) error {
	id, err := parseID(callID, "call_id")
	if err != nil {
		return err
	}

	roomID := websocket.CallRoomID(id.Hex())
	if _, left := s.hub.Leave(actor.ConnectionID, roomID); left {
		s.announceLeft(id.Hex(), websocket.Member{
			ConnectionID: actor.ConnectionID,
			UserID:       actor.UserID,
			Kind:         actor.Kind,
		})
	}
	return nil
}

// EndCall ends the session and empties the call room
func (s *SignalingService) EndCall(ctx context.Context, actor Actor, callID string) (*models.CallSession, error) {
	call, _, err := s.calls.End(ctx, actor, callID)
	return call, err
}

// Disconnected tells every call room the connection was in that it left.
// The call sessions themselves are not changed.
func (s *SignalingService) Disconnected(who websocket.Member, departures []websocket.Departure) {
	for _, d := range departures {
		callID, ok := websocket.CallIDFromRoom(d.RoomID)
		if !ok {
			continue
		}
		s.announceLeft(callID, who)
	}
}

func (s *SignalingService) announceLeft(callID string, who websocket.Member) {
	s.hub.Broadcast(websocket.CallRoomID(callID), websocket.NewWSMessage(websocket.MessageTypePeerLeft, &websocket.PeerPayload{
		CallID:       callID,
		ConnectionID: who.ConnectionID,
		UserID:       who.UserID,
		Kind:         who.Kind,
	}), who.ConnectionID)

	logger.LogCallEvent("left", callID, who.UserID, map[string]interface{}{
		"connection_id": who.ConnectionID,
	})
}

func (s *SignalingService) logDropped(callID string, actor Actor, kind websocket.MessageType, target string) {
	logger.WithFields(map[string]interface{}{
		"call_id":     callID,
		"from":        actor.ConnectionID,
		"target":      target,
		"signal_type": kind,
		"user_id":     actor.UserID,
	}).Warn("Dropping signal, target not in call")
}

// validateSignal checks the payload shape and returns the outbound type
func validateSignal(kind websocket.MessageType, payload json.RawMessage) (websocket.MessageType, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return "", invalid("payload is required")
	}

	switch kind {
	case websocket.MessageTypeOffer:
		return websocket.MessageTypeOfferReceived, validateDescription(payload, webrtc.SDPTypeOffer)
	case websocket.MessageTypeAnswer:
		return websocket.MessageTypeAnswerReceived, validateDescription(payload, webrtc.SDPTypeAnswer)
	case websocket.MessageTypeICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &candidate); err != nil {
			return "", invalid("malformed ICE candidate")
		}
		// An empty candidate marks end of candidates
		if candidate.Candidate != "" && candidate.SDPMid == nil && candidate.SDPMLineIndex == nil {
			return "", invalid("ICE candidate needs sdpMid or sdpMLineIndex")
		}
		return websocket.MessageTypeICECandidateReceived, nil
	default:
		return "", invalid("%s is not a signaling type", kind)
	}
}

func validateDescription(payload json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return invalid("malformed session description")
	}
	if desc.Type != want {
		return invalid("expected a session description of type %s", want)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return invalid("invalid SDP: %v", err)
	}
	return nil
}

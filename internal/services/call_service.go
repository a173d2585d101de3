package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telecare/internal/config"
	"telecare/internal/models"
	"telecare/internal/store"
	"telecare/internal/websocket"
	"telecare/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// End reasons recorded on the session
const (
	ReasonEndedByParticipant = "ended_by_participant"
	ReasonCancelled          = "cancelled_by_initiator"
	ReasonNoAnswer           = "no_answer"
	ReasonAbandoned          = "abandoned"
)

// CallService owns the call session state machine and its authorization
// rules. Every status change is a conditional store update.
type CallService struct {
	calls       store.CallStore
	chat        *ChatService
	hub         *websocket.Hub
	newCode     CodeGenerator
	codeRetries int
	now         func() time.Time
}

func NewCallService(calls store.CallStore, chat *ChatService, hub *websocket.Hub, cfg config.CallConfig) (*CallService, error) {
	gen, err := NewCodeGenerator(cfg.MeetingCodeAlphabet, cfg.MeetingCodeLength)
	if err != nil {
		return nil, err
	}

	retries := cfg.MeetingCodeRetries
	if retries < 1 {
		retries = 1
	}

	return &CallService{
		calls:       calls,
		chat:        chat,
		hub:         hub,
		newCode:     gen,
		codeRetries: retries,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create opens a pending call for a thread the actor participates in
func (s *CallService) Create(ctx context.Context, actor Actor, threadID string) (*models.CallSession, error) {
	thread, err := s.chat.GetThread(ctx, actor.UserID, threadID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	participants := make([]models.Participant, len(thread.Participants))
	copy(participants, thread.Participants)

	call := &models.CallSession{
		ThreadID:     thread.ID,
		InitiatorID:  actor.UserID,
		Participants: participants,
		Status:       models.CallStatusPending,
		RequestedAt:  now,
		UpdatedAt:    now,
	}

	if err := s.insertWithUniqueCode(ctx, call); err != nil {
		return nil, err
	}

	logger.LogCallEvent("created", call.ID.Hex(), actor.UserID, map[string]interface{}{
		"thread_id":    thread.ID.Hex(),
		"meeting_code": call.MeetingCode,
	})

	s.recordSystemMessage(ctx, call, actor.UserID, models.MessageTypeCallStarted, "Video call started")

	return call, nil
}

func (s *CallService) insertWithUniqueCode(ctx context.Context, call *models.CallSession) error {
	for attempt := 1; attempt <= s.codeRetries; attempt++ {
		call.ID = primitive.NewObjectID()
		call.MeetingCode = s.newCode()

		err := s.calls.CreateCall(ctx, call)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateMeetingCode) {
			logger.LogError(err, "Failed to create call session", map[string]interface{}{
				"thread_id": call.ThreadID.Hex(),
			})
			return storeError(err, ErrCallNotFound)
		}

		logger.WithFields(map[string]interface{}{
			"attempt":   attempt,
			"thread_id": call.ThreadID.Hex(),
		}).Warn("Meeting code collision, retrying")
	}

	return fmt.Errorf("%w: no unique meeting code after %d attempts", ErrUnavailable, s.codeRetries)
}

// Get returns a session to one of its participants
func (s *CallService) Get(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	id, err := parseID(callID, "call_id")
	if err != nil {
		return nil, err
	}
	return s.authorized(ctx, userID, id)
}

// GetByCode resolves a meeting code for one of the session's participants
func (s *CallService) GetByCode(ctx context.Context, userID, code string) (*models.CallSession, error) {
	code = NormalizeMeetingCode(code)
	if code == "" {
		return nil, invalid("meeting_code is required")
	}

	call, err := s.calls.GetCallByCode(ctx, code)
	if err != nil {
		return nil, storeError(err, ErrCallNotFound)
	}
	if !call.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return call, nil
}

// Current reads the stored session without an authorization check
func (s *CallService) Current(ctx context.Context, id primitive.ObjectID) (*models.CallSession, error) {
	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, storeError(err, ErrCallNotFound)
	}
	return call, nil
}

func (s *CallService) authorized(ctx context.Context, userID string, id primitive.ObjectID) (*models.CallSession, error) {
	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, storeError(err, ErrCallNotFound)
	}
	if !call.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return call, nil
}

// Admit authorizes a join by call id or meeting code. A non-initiator joining a
// pending call activates it. Nothing changes when admission is refused.
func (s *CallService) Admit(ctx context.Context, actor Actor, callID, code string) (*models.CallSession, error) {
	var (
		call *models.CallSession
		err  error
	)
	if callID != "" {
		call, err = s.Get(ctx, actor.UserID, callID)
	} else {
		call, err = s.GetByCode(ctx, actor.UserID, code)
	}
	if err != nil {
		return nil, err
	}

	if !call.Status.Joinable() {
		return nil, ErrCallNotJoinable
	}

	if call.Status == models.CallStatusPending && !call.IsInitiator(actor.UserID) {
		current, changed, err := s.calls.Activate(ctx, call.ID, s.now())
		if err != nil {
			return nil, storeError(err, ErrCallNotFound)
		}
		if !current.Status.Joinable() {
			return nil, ErrCallNotJoinable
		}
		if changed {
			logger.LogCallEvent("activated", call.ID.Hex(), actor.UserID, nil)
		}
		call = current
	}

	return call, nil
}

// End finishes the call on behalf of a participant. Ending a call that is
// already over returns the unchanged session without announcing anything, but
// still empties the call room.
func (s *CallService) End(ctx context.Context, actor Actor, callID string) (*models.CallSession, bool, error) {
	id, err := parseID(callID, "call_id")
	if err != nil {
		return nil, false, err
	}
	if _, err := s.authorized(ctx, actor.UserID, id); err != nil {
		return nil, false, err
	}

	call, changed, err := s.calls.Finish(ctx, id, store.Transition{
		From:   []models.CallStatus{models.CallStatusPending, models.CallStatusActive},
		To:     models.CallStatusEnded,
		By:     actor.UserID,
		Reason: ReasonEndedByParticipant,
		At:     s.now(),
	})
	if err != nil {
		return nil, false, storeError(err, ErrCallNotFound)
	}

	if changed {
		logger.LogCallEvent("ended", call.ID.Hex(), actor.UserID, map[string]interface{}{
			"duration": call.Duration,
		})
		s.recordSystemMessage(ctx, call, actor.UserID, models.MessageTypeCallEnded,
			fmt.Sprintf("Video call ended (%s)", formatDuration(call.Duration)))
		s.closeRoom(call)
	} else {
		s.evictRoom(call)
	}

	return call, changed, nil
}

// Cancel withdraws a pending call. Only the initiator may cancel, and
// cancelling twice is a no-op.
func (s *CallService) Cancel(ctx context.Context, actor Actor, callID string) (*models.CallSession, bool, error) {
	id, err := parseID(callID, "call_id")
	if err != nil {
		return nil, false, err
	}
	call, err := s.authorized(ctx, actor.UserID, id)
	if err != nil {
		return nil, false, err
	}
	if !call.IsInitiator(actor.UserID) {
		return nil, false, ErrNotInitiator
	}
	if call.Status == models.CallStatusCancelled {
		return call, false, nil
	}
	if call.Status != models.CallStatusPending {
		return nil, false, ErrCallNotPending
	}

	call, changed, err := s.calls.Finish(ctx, id, store.Transition{
		From:   []models.CallStatus{models.CallStatusPending},
		To:     models.CallStatusCancelled,
		By:     actor.UserID,
		Reason: ReasonCancelled,
		At:     s.now(),
	})
	if err != nil {
		return nil, false, storeError(err, ErrCallNotFound)
	}
	if !changed {
		if call.Status == models.CallStatusCancelled {
			return call, false, nil
		}
		return nil, false, ErrCallNotPending
	}

	logger.LogCallEvent("cancelled", call.ID.Hex(), actor.UserID, nil)
	s.recordSystemMessage(ctx, call, actor.UserID, models.MessageTypeCallCancelled, "Video call cancelled")
	s.closeRoom(call)

	return call, true, nil
}

// MarkMissed moves a pending call nobody answered to missed
func (s *CallService) MarkMissed(ctx context.Context, id primitive.ObjectID) (*models.CallSession, bool, error) {
	call, changed, err := s.calls.Finish(ctx, id, store.Transition{
		From:   []models.CallStatus{models.CallStatusPending},
		To:     models.CallStatusMissed,
		Reason: ReasonNoAnswer,
		At:     s.now(),
	})
	if err != nil {
		return nil, false, storeError(err, ErrCallNotFound)
	}
	if !changed {
		return call, false, nil
	}

	logger.LogCallEvent("missed", call.ID.Hex(), call.InitiatorID, nil)
	s.recordSystemMessage(ctx, call, call.InitiatorID, models.MessageTypeCallMissed, "Missed video call")
	s.closeRoom(call)

	return call, true, nil
}

// Abandon ends an active call whose room has stayed empty
func (s *CallService) Abandon(ctx context.Context, id primitive.ObjectID) (*models.CallSession, bool, error) {
	call, changed, err := s.calls.Finish(ctx, id, store.Transition{
		From:   []models.CallStatus{models.CallStatusActive},
		To:     models.CallStatusEnded,
		Reason: ReasonAbandoned,
		At:     s.now(),
	})
	if err != nil {
		return nil, false, storeError(err, ErrCallNotFound)
	}
	if !changed {
		return call, false, nil
	}

	logger.LogCallEvent("abandoned", call.ID.Hex(), "", map[string]interface{}{
		"duration": call.Duration,
	})
	s.recordSystemMessage(ctx, call, call.InitiatorID, models.MessageTypeCallEnded,
		fmt.Sprintf("Video call ended (%s)", formatDuration(call.Duration)))
	s.closeRoom(call)

	return call, true, nil
}

// Overdue lists pending calls requested before the cutoff
func (s *CallService) Overdue(ctx context.Context, cutoff time.Time) ([]models.CallSession, error) {
	calls, err := s.calls.ListByStatus(ctx, models.CallStatusPending, cutoff)
	if err != nil {
		return nil, storeError(err, ErrCallNotFound)
	}
	return calls, nil
}

// Active lists every active call
func (s *CallService) Active(ctx context.Context) ([]models.CallSession, error) {
	calls, err := s.calls.ListByStatus(ctx, models.CallStatusActive, time.Time{})
	if err != nil {
		return nil, storeError(err, ErrCallNotFound)
	}
	return calls, nil
}

// closeRoom tells the call room the session is over and evicts every member
func (s *CallService) closeRoom(call *models.CallSession) {
	roomID := websocket.CallRoomID(call.ID.Hex())

	s.hub.Broadcast(roomID, websocket.NewWSMessage(websocket.MessageTypeCallEnded, &websocket.CallEndedPayload{
		CallID:   call.ID.Hex(),
		Status:   call.Status,
		EndedBy:  call.EndedBy,
		Reason:   call.EndReason,
		Duration: call.Duration,
	}), "")

	s.evictRoom(call)
}

func (s *CallService) evictRoom(call *models.CallSession) {
	if evicted := s.hub.CloseRoom(websocket.CallRoomID(call.ID.Hex())); len(evicted) > 0 {
		logger.LogCallEvent("room_closed", call.ID.Hex(), "", map[string]interface{}{
			"evicted": len(evicted),
		})
	}
}

// recordSystemMessage appends a call entry to the chat thread. The session is
// already durable at this point, so a failure is logged rather than returned.
func (s *CallService) recordSystemMessage(ctx context.Context, call *models.CallSession, actorID string, msgType models.MessageType, content string) {
	if _, err := s.chat.AppendSystemMessage(ctx, call.ThreadID, actorID, msgType, content, call.ID); err != nil {
		logger.LogError(err, "Failed to record call message", map[string]interface{}{
			"call_id":   call.ID.Hex(),
			"thread_id": call.ThreadID.Hex(),
			"type":      msgType,
		})
	}
}

func formatDuration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

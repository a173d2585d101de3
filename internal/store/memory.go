package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"telecare/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore implements ChatStore and CallStore in process memory.
// Used for local development (STORE_DRIVER=memory) and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[primitive.ObjectID]*models.ChatThread
	pairs   map[string]primitive.ObjectID
	calls   map[primitive.ObjectID]*models.CallSession
	codes   map[string]primitive.ObjectID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[primitive.ObjectID]*models.ChatThread),
		pairs:   make(map[string]primitive.ObjectID),
		calls:   make(map[primitive.ObjectID]*models.CallSession),
		codes:   make(map[string]primitive.ObjectID),
	}
}

// Chat threads

func (s *MemoryStore) EnsureThread(ctx context.Context, a, b models.Participant) (*models.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(a.UserID, b.UserID)
	if id, ok := s.pairs[key]; ok {
		return copyThread(s.threads[id]), nil
	}

	now := time.Now().UTC()
	thread := &models.ChatThread{
		ID:             primitive.NewObjectID(),
		Participants:   []models.Participant{a, b},
		ParticipantKey: key,
		Messages:       []models.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.threads[thread.ID] = thread
	s.pairs[key] = thread.ID

	return copyThread(thread), nil
}

func (s *MemoryStore) GetThread(ctx context.Context, id primitive.ObjectID) (*models.ChatThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(thread), nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, userID string) ([]models.ChatThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]models.ChatThread, 0)
	for _, t := range s.threads {
		if t.HasParticipant(userID) {
			threads = append(threads, *copyThread(t))
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, threadID primitive.ObjectID, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	thread.Messages = append(thread.Messages, msg)
	thread.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, threadID, messageID primitive.ObjectID, receiverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return false, ErrNotFound
	}
	for i := range thread.Messages {
		m := &thread.Messages[i]
		if m.ID != messageID {
			continue
		}
		if m.ReceiverID != receiverID || m.Read {
			return false, nil
		}
		m.Read = true
		return true, nil
	}
	return false, ErrNotFound
}

func (s *MemoryStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, t := range s.threads {
		for _, m := range t.Messages {
			if m.ReceiverID == userID && !m.Read {
				count++
			}
		}
	}
	return count, nil
}

// Call sessions

func (s *MemoryStore) CreateCall(ctx context.Context, call *models.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := strings.ToUpper(call.MeetingCode)
	if _, taken := s.codes[code]; taken {
		return ErrDuplicateMeetingCode
	}
	if call.ID.IsZero() {
		call.ID = primitive.NewObjectID()
	}
	s.calls[call.ID] = copyCall(call)
	s.codes[code] = call.ID
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id primitive.ObjectID) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCall(call), nil
}

func (s *MemoryStore) GetCallByCode(ctx context.Context, code string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCall(s.calls[id]), nil
}

func (s *MemoryStore) Activate(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.CallSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if call.Status != models.CallStatusPending {
		return copyCall(call), false, nil
	}
	call.Status = models.CallStatusActive
	call.AcceptedAt = &at
	call.StartedAt = &at
	call.UpdatedAt = at
	return copyCall(call), true, nil
}

func (s *MemoryStore) Finish(ctx context.Context, id primitive.ObjectID, tr Transition) (*models.CallSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !containsStatus(tr.From, call.Status) {
		return copyCall(call), false, nil
	}
	endedAt := tr.At
	call.Status = tr.To
	call.EndedAt = &endedAt
	call.EndedBy = tr.By
	call.EndReason = tr.Reason
	call.Duration = models.DurationSince(call.StartedAt, endedAt)
	call.UpdatedAt = endedAt
	return copyCall(call), true, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status models.CallStatus, requestedBefore time.Time) ([]models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := make([]models.CallSession, 0)
	for _, c := range s.calls {
		if c.Status != status {
			continue
		}
		if !requestedBefore.IsZero() && !c.RequestedAt.Before(requestedBefore) {
			continue
		}
		calls = append(calls, *copyCall(c))
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].RequestedAt.Before(calls[j].RequestedAt)
	})
	return calls, nil
}

func copyThread(t *models.ChatThread) *models.ChatThread {
	c := *t
	c.Participants = append([]models.Participant(nil), t.Participants...)
	c.Messages = append([]models.Message{}, t.Messages...)
	return &c
}

func copyCall(call *models.CallSession) *models.CallSession {
	c := *call
	c.Participants = append([]models.Participant(nil), call.Participants...)
	return &c
}

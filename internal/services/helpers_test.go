package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"telecare/internal/config"
	"telecare/internal/models"
	"telecare/internal/store"
	"telecare/internal/websocket"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	patient = models.Participant{UserID: "u1", Kind: models.KindPatient}
	doctor  = models.Participant{UserID: "u2", Kind: models.KindDoctor}
)

type fixture struct {
	store     *store.MemoryStore
	hub       *websocket.Hub
	chat      *ChatService
	calls     *CallService
	signaling *SignalingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, st *store.MemoryStore) *fixture {
	t.Helper()
	return newFixtureWith(t, st, st)
}

func newFixtureWith(t *testing.T, chats store.ChatStore, calls store.CallStore) *fixture {
	t.Helper()

	hub := websocket.NewHub()
	chat := NewChatService(chats, hub, config.ChatConfig{MaxContentLength: 100})
	callSvc, err := NewCallService(calls, chat, hub, config.CallConfig{
		MeetingCodeLength:   6,
		MeetingCodeAlphabet: "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		MeetingCodeRetries:  3,
	})
	require.NoError(t, err)

	f := &fixture{
		hub:       hub,
		chat:      chat,
		calls:     callSvc,
		signaling: NewSignalingService(callSvc, hub),
	}
	if ms, ok := chats.(*store.MemoryStore); ok {
		f.store = ms
	}
	return f
}

// connect registers a connection-less client and returns it with its actor
func (f *fixture) connect(p models.Participant) (*websocket.Client, Actor) {
	c := websocket.NewClient(nil, p.UserID, p.Kind, websocket.ClientOptions{SendBufferSize: 64})
	f.hub.Register(c)
	return c, Actor{UserID: p.UserID, Kind: p.Kind, ConnectionID: c.ID}
}

func (f *fixture) thread(t *testing.T) *models.ChatThread {
	t.Helper()
	thread, err := f.chat.StartChat(context.Background(), Actor{UserID: patient.UserID, Kind: patient.Kind}, doctor)
	require.NoError(t, err)
	return thread
}

func drain(c *websocket.Client) []*websocket.WSMessage {
	var out []*websocket.WSMessage
	for {
		select {
		case msg, ok := <-c.Outbound():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ofType(msgs []*websocket.WSMessage, t websocket.MessageType) []*websocket.WSMessage {
	var out []*websocket.WSMessage
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// sequenceCodes returns codes in order, repeating the last one
func sequenceCodes(codes ...string) CodeGenerator {
	i := 0
	return func() string {
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code
	}
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errStoreDown = errors.New("connection refused")

// flakyStore fails writes on demand
type flakyStore struct {
	*store.MemoryStore
	failAppend bool
	failFinish bool
}

func (s *flakyStore) AppendMessage(ctx context.Context, threadID primitive.ObjectID, msg models.Message) error {
	if s.failAppend {
		return errStoreDown
	}
	return s.MemoryStore.AppendMessage(ctx, threadID, msg)
}

func (s *flakyStore) Finish(ctx context.Context, id primitive.ObjectID, tr store.Transition) (*models.CallSession, bool, error) {
	if s.failFinish {
		return nil, false, errStoreDown
	}
	return s.MemoryStore.Finish(ctx, id, tr)
}

// hookedStore runs afterActivate once, right after the next activation
type hookedStore struct {
	*store.MemoryStore
	afterActivate func()
}

func (s *hookedStore) Activate(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.CallSession, bool, error) {
	call, changed, err := s.MemoryStore.Activate(ctx, id, at)
	if hook := s.afterActivate; hook != nil {
		s.afterActivate = nil
		hook()
	}
	return call, changed, err
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParticipantKind distinguishes the two sides of a care conversation
type ParticipantKind string

const (
	KindPatient ParticipantKind = "patient"
	KindDoctor  ParticipantKind = "doctor"
)

// Valid reports whether k is one of the known participant kinds
func (k ParticipantKind) Valid() bool {
	return k == KindPatient || k == KindDoctor
}

// MessageType tags a persisted message as user text or a system entry
type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeCallStarted   MessageType = "call_started"
	MessageTypeCallEnded     MessageType = "call_ended"
	MessageTypeCallMissed    MessageType = "call_missed"
	MessageTypeCallCancelled MessageType = "call_cancelled"
)

// IsCallRelated reports whether messages of this type carry a call reference
func (t MessageType) IsCallRelated() bool {
	switch t {
	case MessageTypeCallStarted, MessageTypeCallEnded, MessageTypeCallMissed, MessageTypeCallCancelled:
		return true
	}
	return false
}

type Participant struct {
	UserID string          `bson:"user_id" json:"user_id"`
	Kind   ParticipantKind `bson:"kind" json:"kind"`
}

// ChatThread is the persisted two-party message history
type ChatThread struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Participants []Participant      `bson:"participants" json:"participants"`
	// ParticipantKey is the order-independent pair key backing the unique index
	ParticipantKey string    `bson:"participant_key" json:"-"`
	Messages       []Message `bson:"messages" json:"messages"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Message is one entry of a thread. Content and sender never change once appended.
type Message struct {
	ID           primitive.ObjectID  `bson:"_id" json:"id"`
	SenderID     string              `bson:"sender_id" json:"sender_id"`
	SenderKind   ParticipantKind     `bson:"sender_kind" json:"sender_kind"`
	ReceiverID   string              `bson:"receiver_id" json:"receiver_id"`
	ReceiverKind ParticipantKind     `bson:"receiver_kind" json:"receiver_kind"`
	Content      string              `bson:"content" json:"content"`
	Type         MessageType         `bson:"type" json:"type"`
	CallID       *primitive.ObjectID `bson:"call_id,omitempty" json:"call_id,omitempty"`
	Read         bool                `bson:"read" json:"read"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants
func (t *ChatThread) HasParticipant(userID string) bool {
	_, ok := t.Participant(userID)
	return ok
}

// Participant returns the participant entry for userID
func (t *ChatThread) Participant(userID string) (Participant, bool) {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Counterpart returns the participant that is not userID
func (t *ChatThread) Counterpart(userID string) (Participant, bool) {
	if !t.HasParticipant(userID) {
		return Participant{}, false
	}
	for _, p := range t.Participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantIDs lists the user ids of the thread participants
func (t *ChatThread) ParticipantIDs() []string {
	ids := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Message returns a copy of the message with the given id
func (t *ChatThread) Message(id primitive.ObjectID) (Message, bool) {
	for _, m := range t.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// PairKey builds the order-independent key for two user ids
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

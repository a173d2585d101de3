package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusCancelled CallStatus = "cancelled"
)

// Joinable reports whether a session in this status still accepts joins
func (s CallStatus) Joinable() bool {
	return s == CallStatusPending || s == CallStatusActive
}

// Terminal reports whether no further transition is possible
func (s CallStatus) Terminal() bool {
	return !s.Joinable()
}

// CallSession is the persisted audit record of one video call negotiation.
// It points at its thread by id only.
type CallSession struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ThreadID     primitive.ObjectID `bson:"thread_id" json:"thread_id"`
	InitiatorID  string             `bson:"initiator_id" json:"initiator_id"`
	Participants []Participant      `bson:"participants" json:"participants"`
	Status       CallStatus         `bson:"status" json:"status"`
	MeetingCode  string             `bson:"meeting_code" json:"meeting_code"`
	EndedBy      string             `bson:"ended_by,omitempty" json:"ended_by,omitempty"`
	EndReason    string             `bson:"end_reason,omitempty" json:"end_reason,omitempty"`
	Duration     int64              `bson:"duration" json:"duration"` // in seconds
	RequestedAt  time.Time          `bson:"requested_at" json:"requested_at"`
	AcceptedAt   *time.Time         `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	StartedAt    *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt      *time.Time         `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the fixed participant set
func (c *CallSession) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsInitiator reports whether userID requested the call
func (c *CallSession) IsInitiator(userID string) bool {
	return c.InitiatorID == userID
}

// DurationSince computes the call duration in whole seconds from activation to end.
// A call that never left pending has zero duration.
func DurationSince(startedAt *time.Time, endedAt time.Time) int64 {
	if startedAt == nil || endedAt.Before(*startedAt) {
		return 0
	}
	return int64(endedAt.Sub(*startedAt).Seconds())
}

// Package store holds the durable records behind the relay: chat threads with
// their embedded messages, and call sessions.
package store

import (
	"context"
	"errors"
	"time"

	"telecare/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when the addressed record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateMeetingCode is returned when a meeting code is already taken
	ErrDuplicateMeetingCode = errors.New("meeting code already in use")
)

// ChatStore persists chat threads. Messages are append-only; only the read
// flag of a message may change.
type ChatStore interface {
	// EnsureThread returns the thread between the two participants, creating it if needed
	EnsureThread(ctx context.Context, a, b models.Participant) (*models.ChatThread, error)
	GetThread(ctx context.Context, id primitive.ObjectID) (*models.ChatThread, error)
	// ListThreads returns the threads of userID, most recently updated first
	ListThreads(ctx context.Context, userID string) ([]models.ChatThread, error)
	AppendMessage(ctx context.Context, threadID primitive.ObjectID, msg models.Message) error
	// MarkRead sets the read flag when receiverID is the message receiver.
	// It reports whether the flag changed.
	MarkRead(ctx context.Context, threadID, messageID primitive.ObjectID, receiverID string) (bool, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// Transition describes a conditional status change of a call session
type Transition struct {
	From   []models.CallStatus
	To     models.CallStatus
	By     string
	Reason string
	At     time.Time
}

// CallStore persists call sessions. Status changes are conditional updates so
// concurrent writers cannot both win the same transition.
type CallStore interface {
	// CreateCall inserts a new session; ErrDuplicateMeetingCode on code collision
	CreateCall(ctx context.Context, call *models.CallSession) error
	GetCall(ctx context.Context, id primitive.ObjectID) (*models.CallSession, error)
	GetCallByCode(ctx context.Context, code string) (*models.CallSession, error)
	// Activate moves a pending session to active. It returns the current
	// session and whether this call performed the transition.
	Activate(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.CallSession, bool, error)
	// Finish applies a transition into a terminal status, recording the end
	// timestamp and duration. It returns the current session and whether this
	// call performed the transition.
	Finish(ctx context.Context, id primitive.ObjectID, tr Transition) (*models.CallSession, bool, error)
	// ListByStatus returns sessions in status requested before the given time.
	// A zero time matches every session in that status.
	ListByStatus(ctx context.Context, status models.CallStatus, requestedBefore time.Time) ([]models.CallSession, error)
}

func containsStatus(list []models.CallStatus, s models.CallStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

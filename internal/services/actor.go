package services

import (
	"strings"

	"telecare/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Actor identifies who performs an operation. ConnectionID is empty when the
// request arrives over HTTP.
type Actor struct {
	UserID       string
	Kind         models.ParticipantKind
	ConnectionID string
}

func (a Actor) Participant() models.Participant {
	return models.Participant{UserID: a.UserID, Kind: a.Kind}
}

func parseID(hex, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(hex))
	if err != nil {
		return primitive.NilObjectID, invalid("%s is not a valid id", field)
	}
	return id, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telecare/internal/models"
	"telecare/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ThreadsCollection = database.ThreadsCollection
	CallsCollection   = database.CallsCollection

	defaultTimeout = 5 * time.Second
)

// MongoStore implements ChatStore and CallStore on MongoDB. Messages are
// embedded in their thread document so an append is a single $push.
type MongoStore struct {
	db      *mongo.Database
	threads *mongo.Collection
	calls   *mongo.Collection
	timeout time.Duration
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:      db,
		threads: db.Collection(ThreadsCollection),
		calls:   db.Collection(CallsCollection),
		timeout: defaultTimeout,
	}
}

func (s *MongoStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// Chat threads

func (s *MongoStore) EnsureThread(ctx context.Context, a, b models.Participant) (*models.ChatThread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	key := models.PairKey(a.UserID, b.UserID)
	now := time.Now().UTC()

	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":             primitive.NewObjectID(),
			"participants":    []models.Participant{a, b},
			"participant_key": key,
			"messages":        []models.Message{},
			"created_at":      now,
			"updated_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var thread models.ChatThread
	err := s.threads.FindOneAndUpdate(ctx, bson.M{"participant_key": key}, update, opts).Decode(&thread)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a concurrent upsert race; the winner's document is there now
		err = s.threads.FindOne(ctx, bson.M{"participant_key": key}).Decode(&thread)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure thread: %w", err)
	}
	return &thread, nil
}

func (s *MongoStore) GetThread(ctx context.Context, id primitive.ObjectID) (*models.ChatThread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var thread models.ChatThread
	err := s.threads.FindOne(ctx, bson.M{"_id": id}).Decode(&thread)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &thread, nil
}

func (s *MongoStore) ListThreads(ctx context.Context, userID string) ([]models.ChatThread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.threads.Find(ctx, bson.M{"participants.user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer cursor.Close(ctx)

	threads := make([]models.ChatThread, 0)
	if err := cursor.All(ctx, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	return threads, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, threadID primitive.ObjectID, msg models.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"updated_at": msg.CreatedAt},
	}
	result, err := s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, update)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MarkRead(ctx context.Context, threadID, messageID primitive.ObjectID, receiverID string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	filter := bson.M{
		"_id": threadID,
		"messages": bson.M{"$elemMatch": bson.M{
			"_id":         messageID,
			"receiver_id": receiverID,
		}},
	}
	update := bson.M{"$set": bson.M{"messages.$.read": true}}

	result, err := s.threads.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}
	if result.MatchedCount > 0 {
		return result.ModifiedCount > 0, nil
	}

	// No match: either the message is missing or receiverID is not its receiver
	n, err := s.threads.CountDocuments(ctx, bson.M{"_id": threadID, "messages._id": messageID})
	if err != nil {
		return false, fmt.Errorf("failed to look up message: %w", err)
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"participants.user_id": userID}}},
		{{Key: "$unwind", Value: "$messages"}},
		{{Key: "$match", Value: bson.M{"messages.receiver_id": userID, "messages.read": false}}},
		{{Key: "$count", Value: "unread"}},
	}
	cursor, err := s.threads.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Unread int64 `bson:"unread"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Unread, nil
}

// Call sessions

func (s *MongoStore) CreateCall(ctx context.Context, call *models.CallSession) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if call.ID.IsZero() {
		call.ID = primitive.NewObjectID()
	}
	call.MeetingCode = strings.ToUpper(call.MeetingCode)

	if _, err := s.calls.InsertOne(ctx, call); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateMeetingCode
		}
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCall(ctx context.Context, id primitive.ObjectID) (*models.CallSession, error) {
	return s.findCall(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetCallByCode(ctx context.Context, code string) (*models.CallSession, error) {
	return s.findCall(ctx, bson.M{"meeting_code": strings.ToUpper(code)})
}

func (s *MongoStore) findCall(ctx context.Context, filter bson.M) (*models.CallSession, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var call models.CallSession
	if err := s.calls.FindOne(ctx, filter).Decode(&call); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

func (s *MongoStore) Activate(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.CallSession, bool, error) {
	filter := bson.M{"_id": id, "status": models.CallStatusPending}
	update := bson.M{"$set": bson.M{
		"status":      models.CallStatusActive,
		"accepted_at": at,
		"started_at":  at,
		"updated_at":  at,
	}}
	return s.transition(ctx, id, filter, update)
}

func (s *MongoStore) Finish(ctx context.Context, id primitive.ObjectID, tr Transition) (*models.CallSession, bool, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": tr.From}}

	// Pipeline update so the duration is computed from the stored activation
	// timestamp in the same atomic write. Strings are wrapped in $literal since
	// a pipeline reads "$x" as a field path.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status":     literal(tr.To),
			"ended_at":   tr.At,
			"ended_by":   literal(tr.By),
			"end_reason": literal(tr.Reason),
			"updated_at": tr.At,
			"duration": bson.M{"$cond": bson.A{
				bson.M{"$ifNull": bson.A{"$started_at", false}},
				bson.M{"$toLong": bson.M{"$floor": bson.M{"$divide": bson.A{
					bson.M{"$subtract": bson.A{tr.At, "$started_at"}}, 1000,
				}}}},
				0,
			}},
		}}},
	}
	return s.transition(ctx, id, filter, update)
}

func literal(v interface{}) bson.M {
	return bson.M{"$literal": v}
}

func (s *MongoStore) transition(ctx context.Context, id primitive.ObjectID, filter bson.M, update interface{}) (*models.CallSession, bool, error) {
	tctx, cancel := s.ctx(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var call models.CallSession
	err := s.calls.FindOneAndUpdate(tctx, filter, update, opts).Decode(&call)
	if err == nil {
		return &call, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to update call: %w", err)
	}

	// Condition not met: either the session is missing or already moved on
	current, err := s.GetCall(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *MongoStore) ListByStatus(ctx context.Context, status models.CallStatus, requestedBefore time.Time) ([]models.CallSession, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	filter := bson.M{"status": status}
	if !requestedBefore.IsZero() {
		filter["requested_at"] = bson.M{"$lt": requestedBefore}
	}
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}})

	cursor, err := s.calls.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer cursor.Close(ctx)

	calls := make([]models.CallSession, 0)
	if err := cursor.All(ctx, &calls); err != nil {
		return nil, fmt.Errorf("failed to decode calls: %w", err)
	}
	return calls, nil
}

// ==============================================
// pkg/database/mongodb.go
// ==============================================
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telecare/internal/config"
	"telecare/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collections used by the relay's stores
const (
	ThreadsCollection = "chat_threads"
	CallsCollection   = "call_sessions"
)

var (
	client   *mongo.Client
	database *mongo.Database
	once     sync.Once
	initErr  error
)

// InitMongoDB initializes the MongoDB connection and ensures indexes
func InitMongoDB(cfg config.MongoConfig) (*mongo.Database, error) {
	once.Do(func() {
		initErr = connectToMongoDB(cfg)
	})
	return database, initErr
}

// connectToMongoDB establishes connection to MongoDB
func connectToMongoDB(cfg config.MongoConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout+cfg.ServerSelectionTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetHeartbeatInterval(cfg.HeartbeatInterval).
		SetRetryWrites(true).
		SetRetryReads(true)

	var err error
	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database = client.Database(cfg.Database)

	logger.WithFields(map[string]interface{}{
		"database": cfg.Database,
	}).Info("Connected to MongoDB")

	// The meeting code uniqueness constraint lives in these indexes, so
	// startup fails if they cannot be created.
	if err := CreateIndexes(ctx, database); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Disconnect closes MongoDB connection
func Disconnect() error {
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}
	return nil
}

// HealthCheck pings the primary
func HealthCheck(ctx context.Context) map[string]interface{} {
	if database == nil {
		return map[string]interface{}{
			"status": "disconnected",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	return map[string]interface{}{
		"status":   "connected",
		"database": database.Name(),
	}
}

// CreateIndexes creates the indexes the relay's stores rely on
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{
			collection: ThreadsCollection,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "participant_key", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{
						{Key: "participants.user_id", Value: 1},
						{Key: "updated_at", Value: -1},
					},
				},
				{
					Keys: bson.D{
						{Key: "messages.receiver_id", Value: 1},
						{Key: "messages.read", Value: 1},
					},
				},
			},
		},
		{
			collection: CallsCollection,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "meeting_code", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "thread_id", Value: 1}},
				},
				{
					Keys: bson.D{
						{Key: "status", Value: 1},
						{Key: "requested_at", Value: 1},
					},
				},
			},
		},
	}

	for _, indexGroup := range indexes {
		collection := db.Collection(indexGroup.collection)

		if _, err := collection.Indexes().CreateMany(ctx, indexGroup.indexes); err != nil {
			return fmt.Errorf("collection %s: %w", indexGroup.collection, err)
		}
		logger.Debugf("Created %d indexes for collection: %s", len(indexGroup.indexes), indexGroup.collection)
	}

	return nil
}

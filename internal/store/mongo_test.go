package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"telecare/pkg/database"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TestMongoStore needs a running MongoDB, e.g.
// MONGODB_TEST_URI=mongodb://localhost:27017 go test ./internal/store/
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	require.NoError(t, client.Ping(ctx, nil))

	testBackend(t, func(t *testing.T) backend {
		db := client.Database(fmt.Sprintf("telecare_test_%s", primitive.NewObjectID().Hex()))
		t.Cleanup(func() { db.Drop(context.Background()) })

		require.NoError(t, database.CreateIndexes(context.Background(), db))
		return NewMongoStore(db)
	})
}

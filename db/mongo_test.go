package db

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/gravitee-io/apim-mongodb-indexes/test"
	"go.vocdoni.io/dvote/log"
)

var (
	testDB   *MongoStorage
	mongoURI string
)

func TestMain(m *testing.M) {
	log.Init("debug", "stdout", nil)
	ctx := context.Background()
	// start a MongoDB container for testing
	dbContainer, err := test.StartMongoContainer(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to start MongoDB container: %v", err))
	}

	// get the MongoDB connection string
	mongoURI, err = dbContainer.Endpoint(ctx, "mongodb")
	if err != nil {
		panic(fmt.Sprintf("failed to get MongoDB endpoint: %v", err))
	}

	testDB, err = New(mongoURI, test.RandomDatabaseName())
	if err != nil {
		panic(fmt.Sprintf("failed to create new MongoDB connection: %v", err))
	}

	code := m.Run()

	// close the database connection
	testDB.Close()

	// stop the MongoDB container
	if err := dbContainer.Terminate(ctx); err != nil {
		panic(fmt.Sprintf("failed to stop MongoDB container: %v", err))
	}

	os.Exit(code)
}

// newTestStorage opens a connection to a fresh database on the test server.
func newTestStorage(t *testing.T) *MongoStorage {
	ms, err := New(mongoURI, test.RandomDatabaseName())
	if err != nil {
		t.Fatalf("failed to create new MongoDB connection: %v", err)
	}
	t.Cleanup(ms.Close)
	return ms
}

func TestNew(t *testing.T) {
	_, err := New("", "apim")
	if err == nil {
		t.Fatal("expected error on empty URL")
	}
	_, err = New(mongoURI, "")
	if err == nil {
		t.Fatal("expected error on empty database")
	}
}

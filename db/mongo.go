// Package db connects to the APIM MongoDB database and keeps track of which
// index manifests were applied to it.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.vocdoni.io/dvote/log"
)

const (
	migrationsCollection = "migrations"
	appliesCollection    = "indexApplies"
)

// MongoStorage holds the connection to the APIM database and the
// bookkeeping collections of the indexer.
type MongoStorage struct {
	DBClient *mongo.Client
	database string

	migrations *mongo.Collection
	applies    *mongo.Collection
}

// New connects to the MongoDB server at url and checks the connection.
func New(url, database string) (*MongoStorage, error) {
	if url == "" {
		return nil, fmt.Errorf("mongo URL is not defined")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database is not defined")
	}
	log.Infow("connecting to mongodb", "database", database)
	// preparing connection
	opts := options.Client()
	opts.ApplyURI(url)
	timeout := time.Second * 10
	opts.ConnectTimeout = &timeout
	// create a new client with the connection options
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	// check if the connection is successful
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	db := client.Database(database)
	return &MongoStorage{
		DBClient:   client,
		database:   database,
		migrations: db.Collection(migrationsCollection),
		applies:    db.Collection(appliesCollection),
	}, nil
}

// Database returns the handle of the APIM database.
func (ms *MongoStorage) Database() *mongo.Database {
	return ms.DBClient.Database(ms.database)
}

func (ms *MongoStorage) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ms.DBClient.Disconnect(ctx); err != nil {
		log.Warn(err)
	}
}

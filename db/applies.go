package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gravitee-io/apim-mongodb-indexes/indexer"
	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no record matches the query.
var ErrNotFound = fmt.Errorf("not found")

// ApplyRecord is the audit trail of a single apply run.
type ApplyRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	ManifestVersion int                `bson:"manifestVersion"`
	AppliedAt       time.Time          `bson:"appliedAt"`
	Collections     []CollectionRecord `bson:"collections"`
	// Skipped are the manifest collections with no result, either left out
	// of the run or not reached before it aborted.
	Skipped         []string           `bson:"skipped,omitempty"`
}

// CollectionRecord is the stored outcome of one collection.
type CollectionRecord struct {
	Name         string   `bson:"name"`
	Stage        string   `bson:"stage"`
	Created      []string `bson:"created,omitempty"`
	Rebuilt      bool     `bson:"rebuilt"`
	Error        string   `bson:"error,omitempty"`
	RebuildError string   `bson:"rebuildError,omitempty"`
}

// Failed reports whether any collection of the run failed.
func (ar *ApplyRecord) Failed() bool {
	for _, c := range ar.Collections {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// RecordApply stores the outcome of an apply run of m. The report may be
// partial, as returned along with indexer.ErrFatal.
func (ms *MongoStorage) RecordApply(ctx context.Context, m *manifest.Manifest, report *indexer.Report) (*ApplyRecord, error) {
	record := &ApplyRecord{
		ManifestVersion: m.Version,
		AppliedAt:       time.Now(),
	}
	for _, name := range m.Names() {
		if _, ok := report.Result(name); !ok {
			record.Skipped = append(record.Skipped, name)
		}
	}
	for _, res := range report.Results {
		cr := CollectionRecord{
			Name:    res.Collection,
			Stage:   string(res.Stage),
			Created: res.Created,
			Rebuilt: res.Rebuilt,
		}
		if res.Err != nil {
			cr.Error = res.Err.Error()
		}
		if res.RebuildErr != nil {
			cr.RebuildError = res.RebuildErr.Error()
		}
		record.Collections = append(record.Collections, cr)
	}
	result, err := ms.applies.InsertOne(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to record index apply: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid
	}
	return record, nil
}

// LastApply returns the most recent apply record.
func (ms *MongoStorage) LastApply(ctx context.Context) (*ApplyRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "appliedAt", Value: -1}, {Key: "_id", Value: -1}})
	record := &ApplyRecord{}
	if err := ms.applies.FindOne(ctx, bson.M{}, opts).Decode(record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

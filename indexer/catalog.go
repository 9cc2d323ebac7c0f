package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.vocdoni.io/dvote/log"
)

// primaryIndexName is the implicit index on _id, never dropped nor reported.
const primaryIndexName = "_id_"

// server error codes the applier cares about
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceNotFound    = 26
)

// Catalog is the administrative surface of the database the applier works
// against. It is injected so the applier can run on a fake in tests.
type Catalog interface {
	// ListIndexes returns the secondary indexes of the collection, the
	// primary key index excluded. A missing collection has no indexes.
	ListIndexes(ctx context.Context, collection string) ([]Existing, error)
	// DropIndexes drops every index of the collection but the primary key.
	DropIndexes(ctx context.Context, collection string) error
	// CreateIndex creates a single index on the collection.
	CreateIndex(ctx context.Context, collection string, index manifest.Index) error
	// Rebuild rebuilds the index structures of the collection.
	Rebuild(ctx context.Context, collection string) error
}

// Existing is an index found on the server, along with the options that
// make it differ from a plain index.
type Existing struct {
	Name   string
	Index  manifest.Index
	Unique bool
	Sparse bool
	// ExpireAfterSeconds is set on TTL indexes.
	ExpireAfterSeconds *int32
	Partial            bool
}

// Plain reports whether the index is non-unique, non-sparse, non-partial
// and never expires, which is the only kind of index a manifest describes.
func (e Existing) Plain() bool {
	return !e.Unique && !e.Sparse && !e.Partial && e.ExpireAfterSeconds == nil
}

// MongoCatalog implements Catalog on top of a MongoDB database handle.
type MongoCatalog struct {
	database *mongo.Database
}

// NewMongoCatalog wraps the given database.
func NewMongoCatalog(database *mongo.Database) *MongoCatalog {
	return &MongoCatalog{database: database}
}

// indexSpec is an entry of the listIndexes output. The driver's
// IndexSpecification has no partial filter, hence the local type.
type indexSpec struct {
	Name                    string   `bson:"name"`
	Key                     bson.Raw `bson:"key"`
	Unique                  *bool    `bson:"unique"`
	Sparse                  *bool    `bson:"sparse"`
	ExpireAfterSeconds      *int32   `bson:"expireAfterSeconds"`
	PartialFilterExpression bson.Raw `bson:"partialFilterExpression"`
}

// ListIndexes implements Catalog.
func (mc *MongoCatalog) ListIndexes(ctx context.Context, collection string) ([]Existing, error) {
	cursor, err := mc.database.Collection(collection).Indexes().List(ctx)
	if err != nil {
		if hasCode(err, codeNamespaceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list indexes of %s: %w", collection, err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			log.Warnw("error closing cursor", "error", err)
		}
	}()
	specs := []indexSpec{}
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode indexes of %s: %w", collection, err)
	}
	indexes := []Existing{}
	for _, spec := range specs {
		if spec.Name == primaryIndexName {
			continue
		}
		idx, err := indexFromKeys(spec.Key)
		if err != nil {
			return nil, fmt.Errorf("cannot decode index %s of %s: %w", spec.Name, collection, err)
		}
		indexes = append(indexes, Existing{
			Name:               spec.Name,
			Index:              idx,
			Unique:             spec.Unique != nil && *spec.Unique,
			Sparse:             spec.Sparse != nil && *spec.Sparse,
			ExpireAfterSeconds: spec.ExpireAfterSeconds,
			Partial:            len(spec.PartialFilterExpression) > 0,
		})
	}
	return indexes, nil
}

// DropIndexes implements Catalog. Dropping the indexes of a collection that
// does not exist yet is not an error.
func (mc *MongoCatalog) DropIndexes(ctx context.Context, collection string) error {
	if _, err := mc.database.Collection(collection).Indexes().DropAll(ctx); err != nil {
		if hasCode(err, codeNamespaceNotFound) {
			log.Debugw("collection does not exist, nothing to drop", "collection", collection)
			return nil
		}
		return err
	}
	return nil
}

// CreateIndex implements Catalog.
func (mc *MongoCatalog) CreateIndex(ctx context.Context, collection string, index manifest.Index) error {
	_, err := mc.database.Collection(collection).Indexes().CreateOne(ctx, index.Model())
	return err
}

// Rebuild implements Catalog by issuing the reIndex command. Recent servers
// only accept it on standalone instances, the resulting error is left to the
// caller to report.
func (mc *MongoCatalog) Rebuild(ctx context.Context, collection string) error {
	return mc.database.RunCommand(ctx, bson.D{{Key: "reIndex", Value: collection}}).Err()
}

// indexFromKeys converts a raw key document into a manifest index. Numeric
// directions may come back as int32, int64 or double depending on who
// created the index. Special keys (text, hashed, 2dsphere...) are kept with
// a zero direction so they never match a manifest index.
func indexFromKeys(keys bson.Raw) (manifest.Index, error) {
	elems, err := keys.Elements()
	if err != nil {
		return manifest.Index{}, err
	}
	idx := manifest.Index{Keys: make([]manifest.Key, 0, len(elems))}
	for _, e := range elems {
		v := e.Value()
		var dir int64
		switch v.Type {
		case bson.TypeInt32:
			dir = int64(v.Int32())
		case bson.TypeInt64:
			dir = v.Int64()
		case bson.TypeDouble:
			dir = int64(v.Double())
		}
		switch {
		case dir > 0:
			dir = int64(manifest.Ascending)
		case dir < 0:
			dir = int64(manifest.Descending)
		}
		idx.Keys = append(idx.Keys, manifest.Key{Field: e.Key(), Direction: manifest.Direction(dir)})
	}
	return idx, nil
}

func hasCode(err error, code int) bool {
	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		return srvErr.HasErrorCode(code)
	}
	return false
}

// isFatal tells whether err means the whole run must stop: the server cannot
// be reached, the operator lacks privileges or the run was cancelled.
func isFatal(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return true
	case hasCode(err, codeUnauthorized), hasCode(err, codeAuthenticationFailed):
		return true
	}
	return false
}

package migrations

import (
	"context"
	"fmt"
	"slices"

	"github.com/gravitee-io/apim-mongodb-indexes/indexer"
	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.vocdoni.io/dvote/log"
)

// listCollectionsInDB returns the names of the collections in the given database.
func listCollectionsInDB(ctx context.Context, database *mongo.Database) ([]string, error) {
	collectionsCursor, err := database.ListCollections(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := collectionsCursor.Close(ctx); err != nil {
			log.Warnw("failed to close collections cursor", "error", err)
		}
	}()
	collections := []bson.D{}
	if err := collectionsCursor.All(ctx, &collections); err != nil {
		return nil, err
	}
	names := []string{}
	for _, col := range collections {
		for _, v := range col {
			if v.Key == "name" {
				names = append(names, v.Value.(string))
			}
		}
	}
	return names, nil
}

// applyManifest applies m with a rebuild step and turns any collection
// failure into an error, so the migration is not recorded as applied.
func applyManifest(ctx context.Context, database *mongo.Database, m *manifest.Manifest) error {
	report, err := indexer.New(indexer.NewMongoCatalog(database)).Apply(ctx, m)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("manifest version %d not fully applied: %w", m.Version, err)
	}
	return nil
}

// dropManifestIndexes drops the secondary indexes of every manifest
// collection present in the database.
func dropManifestIndexes(ctx context.Context, database *mongo.Database, m *manifest.Manifest) error {
	existing, err := listCollectionsInDB(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	catalog := indexer.NewMongoCatalog(database)
	for _, name := range m.Names() {
		if !slices.Contains(existing, name) {
			continue
		}
		if err := catalog.DropIndexes(ctx, name); err != nil {
			return fmt.Errorf("failed to drop indexes for collection %s: %w", name, err)
		}
	}
	return nil
}

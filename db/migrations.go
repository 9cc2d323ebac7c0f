package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gravitee-io/apim-mongodb-indexes/migrations"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.vocdoni.io/dvote/log"
)

// MigrationRecord is the ledger entry of an applied migration. It keeps
// the manifest version the migration moved the indexes to, so the ledger
// tells which index set the database is expected to carry.
type MigrationRecord struct {
	Version         int       `bson:"version"`
	Name            string    `bson:"name"`
	ManifestVersion int       `bson:"manifestVersion"`
	AppliedAt       time.Time `bson:"appliedAt"`
}

// RunMigrationsUp applies, in order, every registered migration newer than
// the last one in the ledger.
func (ms *MongoStorage) RunMigrationsUp(ctx context.Context) error {
	current, err := ms.LastAppliedMigration(ctx)
	if err != nil {
		return fmt.Errorf("failed to read the migrations ledger: %w", err)
	}
	pending := []*migrations.Migration{}
	for _, mig := range migrations.All() {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		log.Infow("indexes are up-to-date", "migration", current)
		return nil
	}
	log.Infow("applying index migrations", "from", current, "pending", len(pending))

	for _, mig := range pending {
		if err := mig.Up(ctx, ms.Database()); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		record := MigrationRecord{
			Version:         mig.Version,
			Name:            mig.Name,
			ManifestVersion: mig.Manifest.Version,
			AppliedAt:       time.Now(),
		}
		if _, err := ms.migrations.InsertOne(ctx, record); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}
		log.Infow("migration applied", "version", mig.Version, "name", mig.Name,
			"manifestVersion", record.ManifestVersion)
	}
	return nil
}

// RunMigrationsDown rolls back the last steps applied migrations, every one
// of them when steps is zero or negative. Each rollback restores the index
// set of the migration below it.
func (ms *MongoStorage) RunMigrationsDown(ctx context.Context, steps int) error {
	applied, err := ms.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to read the migrations ledger: %w", err)
	}
	if steps <= 0 || steps > len(applied) {
		steps = len(applied)
	}
	log.Infow("rolling back index migrations", "steps", steps)

	for _, record := range applied[:steps] {
		mig, ok := migrations.Get(record.Version)
		if !ok {
			return fmt.Errorf("migration %d (%s) not found in registry", record.Version, record.Name)
		}
		if err := mig.Down(ctx, ms.Database()); err != nil {
			return fmt.Errorf("rollback of migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		if _, err := ms.migrations.DeleteOne(ctx, bson.M{"version": record.Version}); err != nil {
			return fmt.Errorf("failed to remove migration record %d: %w", record.Version, err)
		}
		log.Infow("migration rolled back", "version", mig.Version, "name", mig.Name)
	}
	return nil
}

// LastAppliedMigration returns the version of the last applied migration,
// zero if none was applied yet.
func (ms *MongoStorage) LastAppliedMigration(ctx context.Context) (int, error) {
	applied, err := ms.AppliedMigrations(ctx)
	if err != nil || len(applied) == 0 {
		return 0, err
	}
	return applied[0].Version, nil
}

// AppliedMigrations returns the ledger, newest migration first.
func (ms *MongoStorage) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}})
	cursor, err := ms.migrations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	records := []MigrationRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode migration records: %w", err)
	}
	return records, nil
}

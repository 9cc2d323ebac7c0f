// Package migrations keeps the versioned index migrations of the APIM
// database. Each migration pins a frozen manifest: going up applies it,
// going down re-applies the manifest of the previous migration.
package migrations

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	"go.mongodb.org/mongo-driver/mongo"
	"go.vocdoni.io/dvote/log"
)

// Migration moves the database to the index set of a frozen manifest.
type Migration struct {
	Version  int
	Name     string
	Manifest *manifest.Manifest
}

var registry = map[int]*Migration{}

// Register adds a migration to the registry, replacing any migration with
// the same version. Migrations register themselves from init functions.
func Register(version int, name string, m *manifest.Manifest) {
	registry[version] = &Migration{Version: version, Name: name, Manifest: m}
}

// Unregister removes a migration from the registry.
func Unregister(version int) { delete(registry, version) }

// All returns the registered migrations by ascending version.
func All() []*Migration {
	migs := make([]*Migration, 0, len(registry))
	for _, mig := range registry {
		migs = append(migs, mig)
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs
}

// Get returns the migration with the given version.
func Get(version int) (*Migration, bool) {
	mig, ok := registry[version]
	return mig, ok
}

// Latest returns the migration with the highest version, nil if none.
func Latest() *Migration {
	migs := All()
	if len(migs) == 0 {
		return nil
	}
	return migs[len(migs)-1]
}

// Previous returns the registered migration right below mig, nil when mig
// is the first one.
func (mig *Migration) Previous() *Migration {
	var prev *Migration
	for _, other := range All() {
		if other.Version >= mig.Version {
			break
		}
		prev = other
	}
	return prev
}

// Up applies the manifest of the migration.
func (mig *Migration) Up(ctx context.Context, database *mongo.Database) error {
	return applyManifest(ctx, database, mig.Manifest)
}

// Down restores the index set of the previous migration. Collections the
// previous manifest does not know are left with no secondary indexes, as
// is every collection when there is no previous migration.
func (mig *Migration) Down(ctx context.Context, database *mongo.Database) error {
	prev := mig.Previous()
	if prev == nil {
		return dropManifestIndexes(ctx, database, mig.Manifest)
	}
	added := &manifest.Manifest{Version: mig.Manifest.Version}
	for _, coll := range mig.Manifest.Collections {
		if !slices.Contains(prev.Manifest.Names(), coll.Name) {
			added.Collections = append(added.Collections, coll)
		}
	}
	if err := dropManifestIndexes(ctx, database, added); err != nil {
		return err
	}
	log.Infow("restoring previous manifest", "migration", mig.Version,
		"manifestVersion", prev.Manifest.Version)
	if err := applyManifest(ctx, database, prev.Manifest); err != nil {
		return fmt.Errorf("could not restore manifest of migration %d: %w", prev.Version, err)
	}
	return nil
}

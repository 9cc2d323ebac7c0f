// Package manifest holds the declarative list of secondary indexes that
// must exist on each APIM management collection.
package manifest

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Version is the version of the latest built-in manifest, the one Default
// returns. Released versions are frozen: a change to the index set goes into
// a new VN function, registered with its own migration.
const Version = 1

// Direction is the sort order of an index key.
type Direction int

const (
	// Ascending is the order used by every built-in index.
	Ascending Direction = 1
	// Descending is accepted for manifests loaded from a file.
	Descending Direction = -1
)

// Key is a single (field path, direction) pair of an index. The field path
// may address nested documents or composite identifiers, e.g.
// "properties.api_id" or "_id.referenceId".
type Key struct {
	Field     string    `yaml:"field" json:"field"`
	Direction Direction `yaml:"direction" json:"direction"`
}

// Index is a plain, non-unique, non-expiring index over an ordered list of
// keys.
type Index struct {
	Keys []Key `yaml:"keys" json:"keys"`
}

// Collection groups the indexes of a single collection. Rebuild tells the
// applier to ask the server to rebuild the index structures once all the
// indexes have been created.
type Collection struct {
	Name    string  `yaml:"name" json:"name"`
	Indexes []Index `yaml:"indexes" json:"indexes"`
	Rebuild bool    `yaml:"rebuild" json:"rebuild"`
}

// Manifest is the versioned table collection -> ordered index list.
type Manifest struct {
	Version     int          `yaml:"version" json:"version"`
	Collections []Collection `yaml:"collections" json:"collections"`
}

// asc builds an index with all the given fields in ascending order.
func asc(fields ...string) Index {
	idx := Index{Keys: make([]Key, 0, len(fields))}
	for _, f := range fields {
		idx.Keys = append(idx.Keys, Key{Field: f, Direction: Ascending})
	}
	return idx
}

// Default returns the latest built-in APIM manifest. A fresh copy is
// returned on every call so callers are free to modify it.
func Default() *Manifest { return V1() }

// ByVersion returns the frozen built-in manifest of the given version.
func ByVersion(version int) (*Manifest, error) {
	switch version {
	case 1:
		return V1(), nil
	default:
		return nil, fmt.Errorf("unknown manifest version %d", version)
	}
}

// V1 is the index set of the first release.
func V1() *Manifest {
	return &Manifest{
		Version: 1,
		Collections: []Collection{
			{
				Name:    "apis",
				Indexes: []Index{asc("visibility"), asc("group")},
				Rebuild: true,
			},
			{
				Name:    "applications",
				Indexes: []Index{asc("group"), asc("name"), asc("status")},
				Rebuild: true,
			},
			{
				Name: "events",
				Indexes: []Index{
					asc("type"),
					asc("updatedAt"),
					asc("properties.api_id"),
					asc("properties.api_id", "type"),
				},
				Rebuild: true,
			},
			{
				Name:    "plans",
				Indexes: []Index{asc("apis")},
				Rebuild: true,
			},
			{
				Name:    "subscriptions",
				Indexes: []Index{asc("plan"), asc("application")},
				Rebuild: true,
			},
			{
				Name: "keys",
				Indexes: []Index{
					asc("plan"),
					asc("application"),
					asc("updatedAt"),
					asc("revoked"),
					asc("plan", "revoked", "updatedAt"),
				},
				Rebuild: true,
			},
			{
				Name:    "pages",
				Indexes: []Index{asc("api")},
				Rebuild: true,
			},
			{
				Name: "memberships",
				Indexes: []Index{
					asc("_id.referenceId", "_id.referenceType"),
					asc("_id.referenceId", "_id.referenceType", "roles"),
					asc("_id.userId", "_id.referenceType"),
					asc("_id.userId", "_id.referenceType", "roles"),
				},
				Rebuild: true,
			},
			{
				Name:    "roles",
				Indexes: []Index{asc("_id.scope")},
				Rebuild: true,
			},
			{
				Name:    "audits",
				Indexes: []Index{asc("referenceType", "referenceId"), asc("createdAt")},
				Rebuild: true,
			},
			{
				Name:    "rating",
				Indexes: []Index{asc("api")},
				Rebuild: true,
			},
			{
				// ratingAnswers has never been rebuilt after recreation
				Name:    "ratingAnswers",
				Indexes: []Index{asc("rating")},
			},
			{
				Name:    "notifications",
				Indexes: []Index{asc("username")},
				Rebuild: true,
			},
		},
	}
}

// Names returns the collection names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Collections))
	for _, c := range m.Collections {
		names = append(names, c.Name)
	}
	return names
}

// Collection returns the entry for the given collection name.
func (m *Manifest) Collection(name string) (*Collection, bool) {
	for i := range m.Collections {
		if m.Collections[i].Name == name {
			return &m.Collections[i], true
		}
	}
	return nil, false
}

// Has reports whether the manifest lists the given collection.
func (m *Manifest) Has(name string) bool {
	_, ok := m.Collection(name)
	return ok
}

// Name returns the name the server assigns to the index by default, e.g.
// "plan_1_revoked_1_updatedAt_1".
func (idx Index) Name() string {
	parts := make([]string, 0, len(idx.Keys)*2)
	for _, k := range idx.Keys {
		parts = append(parts, k.Field, fmt.Sprintf("%d", k.Direction))
	}
	return strings.Join(parts, "_")
}

// Document returns the ordered key document of the index.
func (idx Index) Document() bson.D {
	doc := make(bson.D, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		doc = append(doc, bson.E{Key: k.Field, Value: int32(k.Direction)})
	}
	return doc
}

// Model returns the driver model used to create the index.
func (idx Index) Model() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    idx.Document(),
		Options: options.Index().SetName(idx.Name()),
	}
}

// Equal compares the ordered keys of both indexes.
func (idx Index) Equal(other Index) bool {
	if len(idx.Keys) != len(other.Keys) {
		return false
	}
	for i := range idx.Keys {
		if idx.Keys[i] != other.Keys[i] {
			return false
		}
	}
	return true
}

// String renders the index the way the mongo shell prints key documents.
func (idx Index) String() string {
	parts := make([]string, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k.Field, k.Direction))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

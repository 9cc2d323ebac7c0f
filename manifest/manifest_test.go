package manifest

import (
	"bytes"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDefaultManifest(t *testing.T) {
	c := qt.New(t)
	m := Default()
	c.Assert(m.Validate(), qt.IsNil)
	c.Assert(m.Version, qt.Equals, Version)
	c.Assert(m.Names(), qt.DeepEquals, []string{
		"apis", "applications", "events", "plans", "subscriptions", "keys", "pages",
		"memberships", "roles", "audits", "rating", "ratingAnswers", "notifications",
	})

	// every built-in index is plain ascending
	for _, coll := range m.Collections {
		c.Assert(coll.Indexes, qt.Not(qt.HasLen), 0, qt.Commentf("collection %s", coll.Name))
		for _, idx := range coll.Indexes {
			for _, k := range idx.Keys {
				c.Assert(k.Direction, qt.Equals, Ascending)
			}
		}
	}

	t.Run("Keys", func(t *testing.T) {
		c := qt.New(t)
		keys, ok := m.Collection("keys")
		c.Assert(ok, qt.IsTrue)
		var names []string
		for _, idx := range keys.Indexes {
			names = append(names, idx.Name())
		}
		c.Assert(names, qt.DeepEquals, []string{
			"plan_1", "application_1", "updatedAt_1", "revoked_1", "plan_1_revoked_1_updatedAt_1",
		})
		c.Assert(keys.Rebuild, qt.IsTrue)
	})

	t.Run("MembershipsPrefix", func(t *testing.T) {
		c := qt.New(t)
		memberships, ok := m.Collection("memberships")
		c.Assert(ok, qt.IsTrue)
		c.Assert(memberships.Indexes[0], qt.DeepEquals, asc("_id.referenceId", "_id.referenceType"))
		c.Assert(memberships.Indexes[1], qt.DeepEquals, asc("_id.referenceId", "_id.referenceType", "roles"))
		c.Assert(memberships.Indexes[0].Equal(memberships.Indexes[1]), qt.IsFalse)
	})

	t.Run("RatingAnswersNotRebuilt", func(t *testing.T) {
		c := qt.New(t)
		ra, ok := m.Collection("ratingAnswers")
		c.Assert(ok, qt.IsTrue)
		c.Assert(ra.Rebuild, qt.IsFalse)
	})

	t.Run("Unknown", func(t *testing.T) {
		c := qt.New(t)
		c.Assert(m.Has("tenants"), qt.IsFalse)
		_, ok := m.Collection("tenants")
		c.Assert(ok, qt.IsFalse)
	})

	t.Run("FreshCopy", func(t *testing.T) {
		c := qt.New(t)
		other := Default()
		other.Collections[0].Indexes = nil
		c.Assert(Default().Collections[0].Indexes, qt.HasLen, 2)
	})

	t.Run("ByVersion", func(t *testing.T) {
		c := qt.New(t)
		c.Assert(Default().Version, qt.Equals, Version)
		latest, err := ByVersion(Version)
		c.Assert(err, qt.IsNil)
		c.Assert(latest, qt.DeepEquals, Default())
		v1, err := ByVersion(1)
		c.Assert(err, qt.IsNil)
		c.Assert(v1, qt.DeepEquals, V1())
		_, err = ByVersion(Version + 1)
		c.Assert(err, qt.ErrorMatches, "unknown manifest version .*")
	})
}

func TestIndexModel(t *testing.T) {
	c := qt.New(t)
	idx := asc("properties.api_id", "type")
	c.Assert(idx.Name(), qt.Equals, "properties.api_id_1_type_1")
	c.Assert(idx.String(), qt.Equals, "{properties.api_id:1, type:1}")

	model := idx.Model()
	c.Assert(model.Keys, qt.DeepEquals, bson.D{
		{Key: "properties.api_id", Value: int32(1)},
		{Key: "type", Value: int32(1)},
	})
	c.Assert(*model.Options.Name, qt.Equals, "properties.api_id_1_type_1")

	desc := Index{Keys: []Key{{Field: "createdAt", Direction: Descending}}}
	c.Assert(desc.Name(), qt.Equals, "createdAt_-1")
	c.Assert(desc.Equal(asc("createdAt")), qt.IsFalse)
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		name     string
		manifest *Manifest
	}{
		{"Empty", &Manifest{}},
		{"NoName", &Manifest{Collections: []Collection{{Indexes: []Index{asc("a")}}}}},
		{"DuplicateCollection", &Manifest{Collections: []Collection{
			{Name: "apis", Indexes: []Index{asc("a")}},
			{Name: "apis", Indexes: []Index{asc("b")}},
		}}},
		{"NoKeys", &Manifest{Collections: []Collection{{Name: "apis", Indexes: []Index{{}}}}}},
		{"EmptyField", &Manifest{Collections: []Collection{{Name: "apis", Indexes: []Index{asc("")}}}}},
		{"RepeatedField", &Manifest{Collections: []Collection{{Name: "apis", Indexes: []Index{asc("a", "a")}}}}},
		{"DuplicateIndex", &Manifest{Collections: []Collection{{Name: "apis", Indexes: []Index{asc("a"), asc("a")}}}}},
		{"BadDirection", &Manifest{Collections: []Collection{{Name: "apis", Indexes: []Index{
			{Keys: []Key{{Field: "a", Direction: 2}}},
		}}}}},
	}
	for _, tc := range tests {
		c.Run(tc.name, func(c *qt.C) {
			c.Assert(tc.manifest.Validate(), qt.ErrorIs, ErrInvalidManifest)
		})
	}

	// an empty index list is valid, the collection is just left with _id
	m := &Manifest{Collections: []Collection{{Name: "apis"}}}
	c.Assert(m.Validate(), qt.IsNil)
}

func TestLoad(t *testing.T) {
	c := qt.New(t)

	c.Run("RoundTrip", func(c *qt.C) {
		var buf bytes.Buffer
		c.Assert(Default().WriteYAML(&buf), qt.IsNil)
		m, err := Load(&buf)
		c.Assert(err, qt.IsNil)
		c.Assert(m, qt.DeepEquals, Default())
	})

	c.Run("JSON", func(c *qt.C) {
		m, err := Load(strings.NewReader(`{"version": 7, "collections": [
			{"name": "audits", "rebuild": true, "indexes": [
				{"keys": [{"field": "createdAt", "direction": -1}]}
			]}
		]}`))
		c.Assert(err, qt.IsNil)
		c.Assert(m.Version, qt.Equals, 7)
		audits, ok := m.Collection("audits")
		c.Assert(ok, qt.IsTrue)
		c.Assert(audits.Indexes[0].Name(), qt.Equals, "createdAt_-1")
	})

	c.Run("UnknownField", func(c *qt.C) {
		_, err := Load(strings.NewReader("version: 1\ncollections:\n  - name: apis\n    unique: true\n"))
		c.Assert(err, qt.ErrorIs, ErrInvalidManifest)
	})

	c.Run("Invalid", func(c *qt.C) {
		_, err := Load(strings.NewReader("version: 1\ncollections: []\n"))
		c.Assert(err, qt.ErrorIs, ErrInvalidManifest)
	})

	c.Run("MissingFile", func(c *qt.C) {
		_, err := LoadFile(c.TempDir() + "/nope.yaml")
		c.Assert(err, qt.IsNotNil)
	})
}

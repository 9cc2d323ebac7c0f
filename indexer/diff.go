package indexer

import (
	"context"
	"fmt"

	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
)

// Drift describes how a collection differs from the manifest.
type Drift struct {
	Collection string
	// Missing are manifest indexes not found on the server.
	Missing []manifest.Index
	// Extra are server indexes not listed in the manifest, _id excluded.
	// An index with the keys of a manifest index but unique, sparse, partial
	// or TTL options is both extra and, for the plain one, missing.
	Extra []Existing
}

// Empty reports whether the collection matches the manifest.
func (d Drift) Empty() bool { return len(d.Missing) == 0 && len(d.Extra) == 0 }

// Diff compares the indexes on the server with the manifest, without
// changing anything. Only collections with drift are returned.
func (a *Applier) Diff(ctx context.Context, m *manifest.Manifest) ([]Drift, error) {
	drifts := []Drift{}
	for _, coll := range a.targets(m) {
		existing, err := a.catalog.ListIndexes(ctx, coll.Name)
		if err != nil {
			return nil, err
		}
		d := Drift{Collection: coll.Name}
		for _, want := range coll.Indexes {
			if !containsIndex(existing, want) {
				d.Missing = append(d.Missing, want)
			}
		}
		for _, have := range existing {
			if !have.Plain() || !containsManifestIndex(coll.Indexes, have.Index) {
				d.Extra = append(d.Extra, have)
			}
		}
		if !d.Empty() {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

// Verify returns ErrDrift if any collection differs from the manifest.
func (a *Applier) Verify(ctx context.Context, m *manifest.Manifest) error {
	drifts, err := a.Diff(ctx, m)
	if err != nil {
		return err
	}
	if len(drifts) > 0 {
		return fmt.Errorf("%w: %d collections", ErrDrift, len(drifts))
	}
	return nil
}

func containsIndex(existing []Existing, idx manifest.Index) bool {
	for _, e := range existing {
		if e.Plain() && e.Index.Equal(idx) {
			return true
		}
	}
	return false
}

func containsManifestIndex(indexes []manifest.Index, idx manifest.Index) bool {
	for _, i := range indexes {
		if i.Equal(idx) {
			return true
		}
	}
	return false
}

// Package indexer drops and recreates the secondary indexes of the APIM
// collections so they match an index manifest.
package indexer

import (
	"context"
	"fmt"

	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	"go.vocdoni.io/dvote/log"
)

var (
	// ErrFatal wraps errors that abort the whole run (connectivity,
	// authorization, cancellation).
	ErrFatal = fmt.Errorf("fatal error, run aborted")
	// ErrDrift is returned by Verify when the server does not match the
	// manifest.
	ErrDrift = fmt.Errorf("indexes do not match the manifest")
)

// Applier applies an index manifest to a Catalog, one collection at a time.
type Applier struct {
	catalog     Catalog
	rebuild     bool
	collections []string
}

// Option configures an Applier.
type Option func(*Applier)

// WithRebuild enables or disables the rebuild step. When enabled, only the
// collections flagged for rebuild in the manifest are rebuilt.
func WithRebuild(rebuild bool) Option {
	return func(a *Applier) { a.rebuild = rebuild }
}

// WithCollections restricts the run to the given collections. Names that
// are not part of the manifest are ignored.
func WithCollections(names ...string) Option {
	return func(a *Applier) { a.collections = names }
}

// New returns an Applier working on the given catalog.
func New(catalog Catalog, opts ...Option) *Applier {
	a := &Applier{
		catalog: catalog,
		rebuild: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// targets returns the manifest collections selected for this run, in
// manifest order.
func (a *Applier) targets(m *manifest.Manifest) []manifest.Collection {
	if len(a.collections) == 0 {
		return m.Collections
	}
	selected := make(map[string]bool, len(a.collections))
	for _, name := range a.collections {
		if !m.Has(name) {
			log.Warnw("collection not in manifest, leaving it untouched", "collection", name)
			continue
		}
		selected[name] = true
	}
	targets := []manifest.Collection{}
	for _, c := range m.Collections {
		if selected[c.Name] {
			targets = append(targets, c)
		}
	}
	return targets
}

// Apply drops every secondary index of each manifest collection and creates
// the listed ones in order. A failure within a collection stops that
// collection and is recorded in the report, the run then moves on to the
// next collection. Rebuild failures are recorded but do not fail the
// collection. Fatal errors stop the run and are returned wrapped in
// ErrFatal along with the partial report.
func (a *Applier) Apply(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	report := &Report{ManifestVersion: m.Version}
	for _, coll := range a.targets(m) {
		res := a.applyCollection(ctx, coll)
		report.Results = append(report.Results, res)
		if res.Err != nil && isFatal(res.Err) {
			log.Warnw("aborting index run", "collection", coll.Name, "stage", res.Stage, "error", res.Err)
			return report, fmt.Errorf("%w: %s: %w", ErrFatal, coll.Name, res.Err)
		}
	}
	log.Infow("index run finished",
		"collections", len(report.Results),
		"failed", len(report.Failed()),
		"manifestVersion", m.Version)
	return report, nil
}

func (a *Applier) applyCollection(ctx context.Context, coll manifest.Collection) Result {
	res := Result{Collection: coll.Name, Stage: StageDrop}
	log.Infow("dropping indexes", "collection", coll.Name)
	if err := a.catalog.DropIndexes(ctx, coll.Name); err != nil {
		res.Err = fmt.Errorf("failed to drop indexes of %s: %w", coll.Name, err)
		return res
	}
	res.Dropped = true

	res.Stage = StageCreate
	for _, idx := range coll.Indexes {
		log.Debugw("creating index", "collection", coll.Name, "index", idx.String())
		if err := a.catalog.CreateIndex(ctx, coll.Name, idx); err != nil {
			res.Err = fmt.Errorf("failed to create index %s on %s: %w", idx.Name(), coll.Name, err)
			return res
		}
		res.Created = append(res.Created, idx.Name())
	}

	if a.rebuild && coll.Rebuild {
		res.Stage = StageRebuild
		if err := a.catalog.Rebuild(ctx, coll.Name); err != nil {
			// cancellation or lost connectivity still aborts the run
			if isFatal(err) {
				res.Err = fmt.Errorf("failed to rebuild indexes of %s: %w", coll.Name, err)
				return res
			}
			log.Warnw("rebuild failed", "collection", coll.Name, "error", err)
			res.RebuildErr = err
		} else {
			res.Rebuilt = true
		}
	}
	res.Stage = StageDone
	log.Infow("indexes applied", "collection", coll.Name, "created", len(res.Created), "rebuilt", res.Rebuilt)
	return res
}

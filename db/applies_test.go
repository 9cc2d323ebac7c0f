package db

import (
	"context"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gravitee-io/apim-mongodb-indexes/indexer"
	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
)

func TestApplyRecords(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	_, err := testDB.LastApply(ctx)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	m := manifest.Default()
	m.Version = 3
	m.Collections = m.Collections[:3] // apis, applications, events
	report := &indexer.Report{
		ManifestVersion: 3,
		Results: []indexer.Result{
			{Collection: "apis", Stage: indexer.StageDone, Dropped: true, Created: []string{"visibility_1", "group_1"}, Rebuilt: true},
			{Collection: "applications", Stage: indexer.StageCreate, Dropped: true, Err: fmt.Errorf("index build failed")},
			{
				Collection: "events", Stage: indexer.StageDone, Dropped: true, Created: []string{"type_1"},
				RebuildErr: fmt.Errorf("reIndex not allowed"),
			},
		},
	}
	record, err := testDB.RecordApply(ctx, m, report)
	c.Assert(err, qt.IsNil)
	c.Assert(record.ID.IsZero(), qt.IsFalse)
	c.Assert(record.Failed(), qt.IsTrue)
	c.Assert(record.Skipped, qt.HasLen, 0)

	last, err := testDB.LastApply(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(last.ID, qt.Equals, record.ID)
	c.Assert(last.ManifestVersion, qt.Equals, 3)
	c.Assert(last.Collections, qt.HasLen, 3)
	c.Assert(last.Collections[0].Created, qt.DeepEquals, []string{"visibility_1", "group_1"})
	c.Assert(last.Collections[1].Error, qt.Equals, "index build failed")
	c.Assert(last.Collections[1].Stage, qt.Equals, "create")
	c.Assert(last.Collections[2].RebuildError, qt.Equals, "reIndex not allowed")

	t.Run("Aborted", func(t *testing.T) {
		c := qt.New(t)
		// the run lost the connection on the second collection
		m := manifest.Default()
		report := &indexer.Report{
			ManifestVersion: m.Version,
			Results: []indexer.Result{
				{Collection: "apis", Stage: indexer.StageDone, Dropped: true, Created: []string{"visibility_1", "group_1"}, Rebuilt: true},
				{Collection: "applications", Stage: indexer.StageDrop, Err: fmt.Errorf("connection reset")},
			},
		}
		_, err := testDB.RecordApply(ctx, m, report)
		c.Assert(err, qt.IsNil)

		last, err := testDB.LastApply(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(last.ManifestVersion, qt.Equals, manifest.Version)
		c.Assert(last.Failed(), qt.IsTrue)
		c.Assert(last.Collections, qt.HasLen, 2)
		c.Assert(last.Skipped, qt.DeepEquals, m.Names()[2:])
	})

	t.Run("Succeeded", func(t *testing.T) {
		c := qt.New(t)
		m := manifest.Default()
		m.Collections = m.Collections[:1]
		report := &indexer.Report{
			ManifestVersion: m.Version,
			Results:         report.Results[:1],
		}
		_, err := testDB.RecordApply(ctx, m, report)
		c.Assert(err, qt.IsNil)
		last, err := testDB.LastApply(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(last.Failed(), qt.IsFalse)
		c.Assert(last.Skipped, qt.HasLen, 0)
	})
}

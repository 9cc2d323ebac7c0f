package indexer

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is the step of a collection block an Apply run reached.
type Stage string

const (
	// StageDrop is the removal of the existing secondary indexes.
	StageDrop Stage = "drop"
	// StageCreate is the creation of the manifest indexes, in order.
	StageCreate Stage = "create"
	// StageRebuild is the optional rebuild of the collection indexes.
	StageRebuild Stage = "rebuild"
	// StageDone is reached once the collection matches the manifest.
	StageDone Stage = "done"
)

// Result is the outcome of a single collection.
type Result struct {
	Collection string
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage   Stage
	Dropped bool
	Created []string
	Rebuilt bool
	// Err is set when the collection did not reach the manifest state.
	Err error
	// RebuildErr is set when only the rebuild step failed.
	RebuildErr error
}

// OK reports whether the collection matches the manifest.
func (r Result) OK() bool { return r.Err == nil }

// Report aggregates the results of an Apply run.
type Report struct {
	ManifestVersion int
	Results         []Result
}

// Failed returns the results of the collections that did not reach the
// manifest state.
func (r *Report) Failed() []Result {
	failed := []Result{}
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Result returns the outcome of the given collection, if it was part of the
// run.
func (r *Report) Result(collection string) (Result, bool) {
	for _, res := range r.Results {
		if res.Collection == collection {
			return res, true
		}
	}
	return Result{}, false
}

// Err joins the errors of every failed collection, nil if none failed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Summary renders one line per collection for the operator.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "manifest version %d, %d collections, %d failed\n",
		r.ManifestVersion, len(r.Results), len(r.Failed()))
	for _, res := range r.Results {
		switch {
		case !res.OK():
			fmt.Fprintf(&b, "  FAIL %-15s %s: %v\n", res.Collection, res.Stage, res.Err)
		case res.RebuildErr != nil:
			fmt.Fprintf(&b, "  OK   %-15s %d indexes (rebuild failed: %v)\n",
				res.Collection, len(res.Created), res.RebuildErr)
		default:
			fmt.Fprintf(&b, "  OK   %-15s %d indexes\n", res.Collection, len(res.Created))
		}
	}
	return b.String()
}

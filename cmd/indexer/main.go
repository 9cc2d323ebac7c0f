// Package main provides the command line tool that drops and recreates the
// secondary indexes of the APIM management collections. It supports the
// following commands:
//
//	apply           drop and recreate the indexes of every manifest collection (default)
//	diff            print the differences between the server and the manifest
//	manifest        print the manifest as YAML
//	migrate up      apply the pending index migrations
//	migrate down N  roll back the last N index migrations
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gravitee-io/apim-mongodb-indexes/db"
	"github.com/gravitee-io/apim-mongodb-indexes/indexer"
	"github.com/gravitee-io/apim-mongodb-indexes/manifest"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.vocdoni.io/dvote/log"
)

// config holds the resolved command line and environment settings.
type config struct {
	mongoURL     string
	mongoDB      string
	manifestPath string
	collections  []string
	rebuild      bool
	logLevel     string
}

// newFlagSet defines the command line flags.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringP("mongo-url", "m", "mongodb://localhost:27017", "The URL of the MongoDB server")
	fs.StringP("mongo-db", "d", "gravitee", "The name of the MongoDB database")
	fs.String("manifest", "", "YAML index manifest to use instead of the built-in one")
	fs.StringSlice("collections", nil, "restrict the run to these collections (comma separated)")
	fs.Bool("no-rebuild", false, "skip the reIndex step after creating the indexes")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [apply|diff|manifest|migrate up|migrate down N]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig binds the parsed flags into v, so every flag can also be set
// through its APIM_* environment variable, and resolves the configuration.
func loadConfig(fs *flag.FlagSet, v *viper.Viper) (config, error) {
	v.SetEnvPrefix("APIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return config{}, fmt.Errorf("could not bind flags: %w", err)
	}
	v.AutomaticEnv()
	return config{
		mongoURL:     v.GetString("mongo-url"),
		mongoDB:      v.GetString("mongo-db"),
		manifestPath: v.GetString("manifest"),
		collections:  splitList(v.GetStringSlice("collections")),
		rebuild:      !v.GetBool("no-rebuild"),
		logLevel:     v.GetString("log-level"),
	}, nil
}

// splitList normalizes a list read from flags or environment. Viper splits
// environment values on whitespace only, so "keys,memberships" arrives as a
// single element.
func splitList(items []string) []string {
	list := []string{}
	for _, item := range items {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
	}
	return list
}

func main() {
	fs := newFlagSet(os.Args[0])
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	cfg, err := loadConfig(fs, viper.New())
	if err != nil {
		panic(err)
	}
	log.Init(cfg.logLevel, "stdout", nil)

	// runs are single-shot and run to completion, no deadline is imposed
	ctx := context.Background()

	command := "apply"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	switch command {
	case "apply":
		err = runApply(ctx, cfg)
	case "diff":
		err = runDiff(ctx, cfg)
	case "manifest":
		err = runManifest(cfg)
	case "migrate":
		err = runMigrate(ctx, cfg, fs.Args()[1:])
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

// loadManifest returns the manifest file given by the operator, or the
// built-in one.
func loadManifest(cfg config) (*manifest.Manifest, error) {
	if cfg.manifestPath == "" {
		return manifest.Default(), nil
	}
	m, err := manifest.LoadFile(cfg.manifestPath)
	if err != nil {
		return nil, err
	}
	log.Infow("using manifest file", "path", cfg.manifestPath, "version", m.Version)
	return m, nil
}

func newApplier(storage *db.MongoStorage, cfg config) *indexer.Applier {
	return indexer.New(indexer.NewMongoCatalog(storage.Database()),
		indexer.WithRebuild(cfg.rebuild),
		indexer.WithCollections(cfg.collections...))
}

// runApply drops and recreates the indexes, prints a summary and fails if
// any collection did not reach the manifest state.
func runApply(ctx context.Context, cfg config) error {
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}
	storage, err := db.New(cfg.mongoURL, cfg.mongoDB)
	if err != nil {
		return err
	}
	defer storage.Close()

	report, applyErr := newApplier(storage, cfg).Apply(ctx, m)
	if report != nil {
		fmt.Print(report.Summary())
		// an aborted run is recorded too, its collections were already rebuilt;
		// the record fails as well when the connection is what broke
		if _, err := storage.RecordApply(ctx, m, report); err != nil {
			log.Warnw("could not record the apply run", "error", err)
		}
	}
	if applyErr != nil {
		return applyErr
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d collections failed: %w", len(failed), report.Err())
	}
	return nil
}

// runDiff prints the drift between the server and the manifest.
func runDiff(ctx context.Context, cfg config) error {
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}
	storage, err := db.New(cfg.mongoURL, cfg.mongoDB)
	if err != nil {
		return err
	}
	defer storage.Close()

	if last, err := storage.LastApply(ctx); err == nil {
		fmt.Printf("last apply: manifest version %d at %s (failed: %t)\n",
			last.ManifestVersion, last.AppliedAt.Format("2006-01-02 15:04:05"), last.Failed())
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}

	drifts, err := newApplier(storage, cfg).Diff(ctx, m)
	if err != nil {
		return err
	}
	for _, d := range drifts {
		fmt.Printf("%s:\n", d.Collection)
		for _, idx := range d.Missing {
			fmt.Printf("  + %s\n", idx)
		}
		for _, e := range d.Extra {
			fmt.Printf("  - %s %s\n", e.Name, e.Index)
		}
	}
	if len(drifts) > 0 {
		return fmt.Errorf("%w: %d collections", indexer.ErrDrift, len(drifts))
	}
	fmt.Println("indexes match the manifest")
	return nil
}

func runManifest(cfg config) error {
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}
	return m.WriteYAML(os.Stdout)
}

// runMigrate applies or rolls back the registered index migrations.
func runMigrate(ctx context.Context, cfg config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate direction (up or down)")
	}
	storage, err := db.New(cfg.mongoURL, cfg.mongoDB)
	if err != nil {
		return err
	}
	defer storage.Close()

	switch args[0] {
	case "up":
		return storage.RunMigrationsUp(ctx)
	case "down":
		steps := 1
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid number of steps %q: %w", args[1], err)
			}
		}
		return storage.RunMigrationsDown(ctx, steps)
	default:
		return fmt.Errorf("unknown migrate direction %q", args[0])
	}
}

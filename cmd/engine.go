package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/config"
	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/discovery/manifest"
	"github.com/zjrosen/archnodes/internal/discovery/pysource"
	"github.com/zjrosen/archnodes/internal/infrastructure/sqlite"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/resolver"
	"github.com/zjrosen/archnodes/internal/tracing"
)

// engine bundles the registry, discovery index and resolver built from a Config.
type engine struct {
	store     *catalog.Store
	discovery *discovery.Engine
	resolver  *resolver.Resolver
	tracing   *tracing.Provider
	db        *sqlite.DB // open while a snapshot backs discovery
}

// newEngine wires the components described by c. Catalog failures are kept
// per provider by the store and surface when that provider is resolved.
func newEngine(ctx context.Context, c config.Config) (*engine, error) {
	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	e := &engine{tracing: tp}

	introspector, err := e.introspector(ctx, c.Library)
	if err != nil {
		_ = e.close(ctx)
		return nil, err
	}
	e.discovery = discovery.NewEngine(introspector, discovery.Options{
		IntrospectTimeout: c.Discovery.StartupTimeout,
		Tracer:            tp.Tracer(),
	})

	e.store = catalog.NewStore(catalog.NewLoader(catalogFS(c.Catalog)))
	if err := e.store.Load(); err != nil {
		log.Warn(log.CatCatalog, "Some catalogs failed to load", "error", err)
	}

	e.resolver, err = resolver.New(e.store, e.discovery, resolver.Options{
		Fuzzy:                c.Fuzzy,
		CacheTTL:             c.Cache.TTL,
		CacheCleanupInterval: c.Cache.CleanupInterval,
		DisableCache:         c.Cache.Disabled,
		SlidingTTL:           c.Cache.Sliding,
		Tracer:               tp.Tracer(),
	})
	if err != nil {
		_ = e.close(ctx)
		return nil, err
	}

	if c.Discovery.Warm {
		if err := e.discovery.Warm(ctx); err != nil {
			log.Warn(log.CatDiscovery, "Warm-up incomplete", "error", err)
		}
	}
	return e, nil
}

// introspector selects the discovery backend named by lib.Source.
func (e *engine) introspector(ctx context.Context, lib config.LibraryConfig) (discovery.Introspector, error) {
	switch lib.Source {
	case config.SourcePackage:
		dir := filepath.Join(lib.Root, lib.Package)
		if err := pysource.Check(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", discovery.ErrLibraryUnavailable, dir, err)
		}
		return pysource.NewDir(dir), nil

	case config.SourceManifest:
		in, err := manifest.NewFileIntrospector(os.DirFS(filepath.Dir(lib.Manifest)), filepath.Base(lib.Manifest))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", discovery.ErrLibraryUnavailable, err)
		}
		return in, nil

	case config.SourceSnapshot:
		db, err := sqlite.NewDB(lib.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("open snapshot database: %w", err)
		}
		e.db = db
		in, err := db.Snapshots().LatestIntrospector(ctx)
		if err != nil {
			if errors.Is(err, sqlite.ErrNoSnapshot) {
				return nil, fmt.Errorf("%w: %s has no snapshot, run `archnodes snapshot` first",
					discovery.ErrLibraryUnavailable, lib.Snapshot)
			}
			return nil, err
		}
		snap := in.Snapshot()
		log.Info(log.CatDB, "Using snapshot", "guid", snap.GUID, "version", snap.Version)
		return in, nil

	default:
		m, err := manifest.Embedded()
		if err != nil {
			return nil, err
		}
		return manifest.NewIntrospector(m), nil
	}
}

func catalogFS(c config.CatalogConfig) fs.FS {
	if c.Dir == "" {
		return catalog.Embedded()
	}
	return os.DirFS(c.Dir)
}

// watchPaths lists the files whose changes should refresh the engine.
func watchPaths(c config.Config) []string {
	var paths []string
	if c.Catalog.Dir != "" {
		paths = append(paths, c.Catalog.Dir)
	}
	switch c.Library.Source {
	case config.SourcePackage:
		paths = append(paths, filepath.Join(c.Library.Root, c.Library.Package))
	case config.SourceManifest:
		paths = append(paths, c.Library.Manifest)
	case config.SourceSnapshot:
		paths = append(paths, c.Library.Snapshot)
	}
	return paths
}

func (e *engine) close(ctx context.Context) error {
	var errs []error
	if e.tracing != nil {
		errs = append(errs, e.tracing.Shutdown(ctx))
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}

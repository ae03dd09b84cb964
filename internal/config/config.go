// Package config provides configuration types, defaults, and persistence for archnodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/archnodes/internal/fuzzy"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/tracing"
)

// Library sources.
const (
	SourcePackage  = "package"  // installed python package, parsed with tree-sitter
	SourceManifest = "manifest" // YAML class manifest
	SourceSnapshot = "snapshot" // sqlite snapshot written by `archnodes snapshot`
	SourceEmbedded = "embedded" // manifest compiled into the binary
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the user configuration.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Library   LibraryConfig   `mapstructure:"library"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Fuzzy     fuzzy.Options   `mapstructure:"fuzzy"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

// CatalogConfig locates the registry catalogs.
type CatalogConfig struct {
	// Dir holds <provider>.yaml files. Empty uses the embedded catalogs.
	Dir string `mapstructure:"dir"`
}

// LibraryConfig selects where discovery reads the icon library from.
type LibraryConfig struct {
	Source   string `mapstructure:"source"`   // package | manifest | snapshot | embedded
	Root     string `mapstructure:"root"`     // directory containing the diagrams package
	Package  string `mapstructure:"package"`  // package name, default "diagrams"
	Manifest string `mapstructure:"manifest"` // manifest file
	Snapshot string `mapstructure:"snapshot"` // sqlite database
}

type DiscoveryConfig struct {
	// StartupTimeout bounds each introspection call.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// Warm introspects every provider at startup instead of on first use.
	Warm bool `mapstructure:"warm"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Disabled        bool          `mapstructure:"disabled"`

	// Sliding extends an outcome's ttl every time it is served.
	Sliding bool `mapstructure:"sliding"`
}

// WatchConfig controls hot reload of catalogs and the installed library.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultTracesFilePath returns ~/.config/archnodes/traces/traces.jsonl, or
// "" when the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "archnodes", "traces", "traces.jsonl")
}

// DefaultSnapshotPath returns ~/.archnodes/index.db, or "" when the home
// directory is unknown.
func DefaultSnapshotPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".archnodes", "index.db")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Library: LibraryConfig{
			Source:   SourceEmbedded,
			Package:  "diagrams",
			Snapshot: DefaultSnapshotPath(),
		},
		Discovery: DiscoveryConfig{
			StartupTimeout: 10 * time.Second,
		},
		Fuzzy: fuzzy.DefaultOptions(),
		Cache: CacheConfig{
			TTL:             10 * time.Minute,
			CleanupInterval: 30 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Tracing: tc,
	}
}

// Validate checks every section and reports all problems together.
func Validate(cfg Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch cfg.Library.Source {
	case SourceEmbedded:
	case SourcePackage:
		if cfg.Library.Root == "" {
			add("library.root is required when library.source is %q", SourcePackage)
		}
	case SourceManifest:
		if cfg.Library.Manifest == "" {
			add("library.manifest is required when library.source is %q", SourceManifest)
		}
	case SourceSnapshot:
		if cfg.Library.Snapshot == "" {
			add("library.snapshot is required when library.source is %q", SourceSnapshot)
		}
	default:
		add("library.source must be %q, %q, %q or %q, got %q",
			SourcePackage, SourceManifest, SourceSnapshot, SourceEmbedded, cfg.Library.Source)
	}

	if cfg.Discovery.StartupTimeout <= 0 {
		add("discovery.startup_timeout must be positive, got %s", cfg.Discovery.StartupTimeout)
	}
	if err := cfg.Fuzzy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: fuzzy: %w", ErrInvalid, err))
	}
	if cfg.Cache.TTL <= 0 && !cfg.Cache.Disabled {
		add("cache.ttl must be positive, got %s", cfg.Cache.TTL)
	}
	if cfg.Watch.Debounce < 0 {
		add("watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	if err := cfg.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# archnodes configuration

# Registry catalogs (<provider>.yaml). Leave empty to use the built-in catalogs.
catalog:
  # dir: ./catalogs

# Where the icon library's classes are discovered from.
#   embedded  - class manifest built into archnodes (default)
#   package   - an installed python "diagrams" package, parsed from source
#   manifest  - a manifest file written by "archnodes discover --format manifest"
#   snapshot  - a sqlite snapshot written by "archnodes snapshot"
library:
  source: embedded
  # root: /usr/lib/python3/site-packages
  # package: diagrams
  # manifest: ./diagrams.yaml
  # snapshot: ~/.archnodes/index.db

discovery:
  startup_timeout: 10s   # bound on each introspection call
  warm: false            # introspect every provider at startup

# Approximate matching when no exact class exists.
fuzzy:
  threshold: 0.6            # accept scores >= threshold
  identifier_weight: 0.3    # identifier_weight + description_weight must be 1
  description_weight: 0.7
  top_k: 5                  # suggestions returned

cache:
  ttl: 10m
  cleanup_interval: 30m
  # sliding: true           # reset ttl on every hit
  # disabled: true

# Reload catalogs and rediscover the library when files change (stream command).
watch:
  enabled: false
  debounce: 250ms

# tracing:
#   enabled: true
#   exporter: file          # none | file | stdout | otlp
#   file_path: ~/.config/archnodes/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at configPath from the template.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

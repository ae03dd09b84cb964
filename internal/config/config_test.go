package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/archnodes/internal/fuzzy"
	"github.com/zjrosen/archnodes/internal/tracing"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, Validate(cfg))
	require.Equal(t, SourceEmbedded, cfg.Library.Source)
	require.Equal(t, "diagrams", cfg.Library.Package)
	require.Equal(t, 10*time.Second, cfg.Discovery.StartupTimeout)
	require.Equal(t, fuzzy.DefaultOptions(), cfg.Fuzzy)
	require.False(t, cfg.Tracing.Enabled)
}

func TestValidate_LibrarySource(t *testing.T) {
	tests := []struct {
		name    string
		lib     LibraryConfig
		wantErr string
	}{
		{"embedded", LibraryConfig{Source: SourceEmbedded}, ""},
		{"package with root", LibraryConfig{Source: SourcePackage, Root: "/site-packages"}, ""},
		{"package without root", LibraryConfig{Source: SourcePackage}, "library.root is required"},
		{"manifest without path", LibraryConfig{Source: SourceManifest}, "library.manifest is required"},
		{"snapshot without path", LibraryConfig{Source: SourceSnapshot}, "library.snapshot is required"},
		{"unknown", LibraryConfig{Source: "pip"}, `got "pip"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Library = tt.lib
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Library.Source = "pip"
	cfg.Discovery.StartupTimeout = 0
	cfg.Fuzzy.Threshold = 2
	cfg.Cache.TTL = 0
	cfg.Watch.Debounce = -time.Second
	cfg.Tracing = tracing.Config{Enabled: true, Exporter: "zipkin"}

	err := Validate(cfg)
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, fuzzy.ErrInvalidOptions)
	require.ErrorIs(t, err, tracing.ErrInvalidConfig)
	for _, want := range []string{"library.source", "discovery.startup_timeout", "cache.ttl", "watch.debounce"} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidate_DisabledCacheNeedsNoTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Cache = CacheConfig{Disabled: true}
	require.NoError(t, Validate(cfg))
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(content))
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))

	want := Defaults()
	require.Equal(t, want.Library, cfg.Library)
	require.Equal(t, want.Discovery, cfg.Discovery)
	require.Equal(t, want.Fuzzy, cfg.Fuzzy)
	require.Equal(t, want.Cache, cfg.Cache)
	require.Equal(t, want.Watch, cfg.Watch)
	require.NoError(t, Validate(cfg))
}

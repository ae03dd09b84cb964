package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func readLibrary(t *testing.T, path string) LibraryConfig {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg.Library
}

func TestSaveLibrary_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := SaveLibrary(path, LibraryConfig{Source: SourceSnapshot, Snapshot: "/tmp/index.db"})
	require.NoError(t, err)

	require.Equal(t, LibraryConfig{Source: SourceSnapshot, Snapshot: "/tmp/index.db"}, readLibrary(t, path))
}

func TestSaveLibrary_ReplacesSectionAndKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	err := SaveLibrary(path, LibraryConfig{Source: SourcePackage, Root: "/opt/site-packages", Package: "diagrams"})
	require.NoError(t, err)

	require.Equal(t,
		LibraryConfig{Source: SourcePackage, Root: "/opt/site-packages", Package: "diagrams"},
		readLibrary(t, path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "# archnodes configuration")
	require.Contains(t, string(content), "# accept scores >= threshold")
	require.Contains(t, string(content), "threshold: 0.6")
}

func TestSaveLibrary_AppendsMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fuzzy:\n  top_k: 3\n"), 0o600))

	require.NoError(t, SaveLibrary(path, LibraryConfig{Source: SourceManifest, Manifest: "m.yaml"}))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.Equal(t, 3, v.GetInt("fuzzy.top_k"))
	require.Equal(t, "m.yaml", v.GetString("library.manifest"))
}

func TestSaveLibrary_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("library: [unclosed\n"), 0o600))

	err := SaveLibrary(path, LibraryConfig{Source: SourceEmbedded})
	require.ErrorContains(t, err, "parsing config")
}

func TestSaveLibrary_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveLibrary(path, LibraryConfig{Source: SourceEmbedded}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/archnodes/internal/config"
	"github.com/zjrosen/archnodes/internal/discovery/manifest"
	"github.com/zjrosen/archnodes/internal/infrastructure/sqlite"
	"github.com/zjrosen/archnodes/internal/presentation"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Persist the discovered class index",
	Long: `Discover every class of the configured library and store the index in
a sqlite database, so later runs can resolve without the library installed.

Examples:
  archnodes snapshot --library-version 0.24.4
  archnodes snapshot --db ./index.db --keep 3 --use

--use switches library.source to the snapshot in the config file.`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

var snapshotListCmd = &cobra.Command{
	Use:   "snapshot:list",
	Short: "List stored snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

func init() {
	snapshotCmd.Flags().String("db", "", "snapshot database (default: library.snapshot)")
	snapshotCmd.Flags().String("library-version", "unknown", "version recorded with the snapshot")
	snapshotCmd.Flags().Int("keep", 0, "delete all but the newest N snapshots (0 keeps all)")
	snapshotCmd.Flags().Bool("use", false, "point library.source at the snapshot in the config file")
	snapshotCmd.Flags().StringP("format", "o", "json", "output format: json, jsonl or text")
	rootCmd.AddCommand(snapshotCmd)

	snapshotListCmd.Flags().String("db", "", "snapshot database (default: library.snapshot)")
	snapshotListCmd.Flags().StringP("format", "o", "text", "output format: json, jsonl or text")
	rootCmd.AddCommand(snapshotListCmd)
}

func snapshotPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = cfg.Library.Snapshot
	}
	if path == "" {
		return "", fmt.Errorf("no snapshot database: pass --db or set library.snapshot")
	}
	return filepath.Abs(path)
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	f, err := presentation.ParseFormat(format)
	if err != nil {
		return err
	}
	path, err := snapshotPath(cmd)
	if err != nil {
		return err
	}
	libVersion, _ := flags.GetString("library-version")
	keep, _ := flags.GetInt("keep")

	ctx := cmd.Context()
	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.close(context.WithoutCancel(ctx)) }()

	m, err := manifest.Build(ctx, e.discovery, "diagrams", libVersion)
	if err != nil {
		return err
	}

	db, err := sqlite.NewDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	snap, err := saveSnapshot(ctx, db.Snapshots(), m, keep)
	if err != nil {
		return err
	}

	if use, _ := flags.GetBool("use"); use {
		lib := cfg.Library
		lib.Source = config.SourceSnapshot
		lib.Snapshot = path
		if err := config.SaveLibrary(configPath(), lib); err != nil {
			return err
		}
	}
	return presentation.NewFormatter(cmd.OutOrStdout(), f).FormatSnapshots(presentation.FromSnapshots([]sqlite.Snapshot{snap}))
}

// saveSnapshot stores m and prunes all but the newest keep snapshots.
func saveSnapshot(ctx context.Context, store *sqlite.SnapshotStore, m *manifest.Manifest, keep int) (sqlite.Snapshot, error) {
	snap, err := store.Save(ctx, m)
	if err != nil {
		return sqlite.Snapshot{}, err
	}
	if keep > 0 {
		if _, err := store.Prune(ctx, keep); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	f, err := presentation.ParseFormat(format)
	if err != nil {
		return err
	}
	path, err := snapshotPath(cmd)
	if err != nil {
		return err
	}

	db, err := sqlite.NewDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	snaps, err := db.Snapshots().List(cmd.Context())
	if err != nil {
		return err
	}
	return presentation.NewFormatter(cmd.OutOrStdout(), f).FormatSnapshots(presentation.FromSnapshots(snaps))
}

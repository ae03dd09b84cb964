package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/discovery/manifest"
	"github.com/zjrosen/archnodes/internal/presentation"
	"github.com/zjrosen/archnodes/internal/provider"
)

const formatManifest = "manifest"

var discoverCmd = &cobra.Command{
	Use:   "discover [provider...]",
	Short: "List the classes the icon library provides",
	Long: `List every category module and class discovered in the configured
library, for all providers or the ones named.

Examples:
  archnodes discover aws -o text
  archnodes discover gcp --category compute
  archnodes discover --format manifest --library-version 0.24.4 > diagrams.yaml

The manifest format writes a file usable as library.manifest.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().String("category", "", "only list this category")
	discoverCmd.Flags().StringP("format", "o", "json", "output format: json, jsonl, text or manifest")
	discoverCmd.Flags().String("library-version", "unknown", "version recorded in a manifest")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	providers, err := parseProviders(args)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	category, _ := flags.GetString("category")

	ctx := cmd.Context()
	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.close(context.WithoutCancel(ctx)) }()

	if format == formatManifest {
		libVersion, _ := flags.GetString("library-version")
		return writeManifest(ctx, cmd.OutOrStdout(), e.discovery, libVersion, providers)
	}

	f, err := presentation.ParseFormat(format)
	if err != nil {
		return err
	}
	dtos, err := discoverCategories(ctx, e.discovery, providers, category)
	if err != nil {
		return err
	}
	return presentation.NewFormatter(cmd.OutOrStdout(), f).FormatCategories(dtos)
}

func discoverCategories(ctx context.Context, d *discovery.Engine, providers []provider.Provider, only string) ([]presentation.CategoryDTO, error) {
	var dtos []presentation.CategoryDTO
	for _, p := range providers {
		categories, err := d.Categories(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, c := range categories {
			if only != "" && c.Name != only {
				continue
			}
			classes, err := d.ClassesFor(ctx, p, c.Name)
			if err != nil {
				return nil, err
			}
			dtos = append(dtos, presentation.FromCategory(p.String(), c, classes))
		}
	}
	return dtos, nil
}

func writeManifest(ctx context.Context, w io.Writer, d *discovery.Engine, version string, providers []provider.Provider) error {
	m, err := manifest.Build(ctx, d, "diagrams", version, providers...)
	if err != nil {
		return err
	}
	return m.Encode(w)
}

// parseProviders parses provider arguments; none means every provider.
func parseProviders(args []string) ([]provider.Provider, error) {
	if len(args) == 0 {
		return provider.All(), nil
	}
	providers := make([]provider.Provider, 0, len(args))
	for _, arg := range args {
		p, err := provider.Parse(arg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

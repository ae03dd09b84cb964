package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/presentation"
	"github.com/zjrosen/archnodes/internal/provider"
)

var catalogValidateCmd = &cobra.Command{
	Use:   "catalog:validate [provider...]",
	Short: "Validate registry catalogs",
	Long: `Load the registry catalogs and report every problem in each, such as
missing fields, duplicate ids or categories absent from the module map.

Examples:
  archnodes catalog:validate
  archnodes catalog:validate aws --dir ./catalogs -o text

Exits non-zero when any catalog is invalid.`,
	RunE: runCatalogValidate,
}

func init() {
	catalogValidateCmd.Flags().String("dir", "", "catalog directory (default: catalog.dir)")
	catalogValidateCmd.Flags().StringP("format", "o", "text", "output format: json, jsonl or text")
	rootCmd.AddCommand(catalogValidateCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	providers, err := parseProviders(args)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	f, err := presentation.ParseFormat(format)
	if err != nil {
		return err
	}

	catalogs := cfg.Catalog
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		catalogs.Dir = dir
	}

	reports, invalid := validateCatalogs(catalog.NewLoader(catalogFS(catalogs)), providers)
	if err := presentation.NewFormatter(cmd.OutOrStdout(), f).FormatCatalogReports(reports); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d catalog(s) invalid", invalid, len(reports))
	}
	return nil
}

func validateCatalogs(loader *catalog.Loader, providers []provider.Provider) ([]presentation.CatalogReportDTO, int) {
	reports := make([]presentation.CatalogReportDTO, 0, len(providers))
	invalid := 0
	for _, p := range providers {
		c, err := loader.Load(p)
		report := presentation.FromCatalog(p.String(), c, err)
		if !report.Valid {
			invalid++
		}
		reports = append(reports, report)
	}
	return reports, invalid
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/archnodes/internal/presentation"
	"github.com/zjrosen/archnodes/internal/provider"
	"github.com/zjrosen/archnodes/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Resolve components to icon classes",
	Long: `Resolve one component, or every component of a spec file, to the
module path and class name that renders it.

Examples:
  archnodes resolve ec2 --provider aws
  archnodes resolve severless_queue --display-name "Serverless Queue" -o text
  archnodes resolve --file architecture.yaml

A spec file lists components:

  components:
    - id: api
      display_name: API Gateway
      provider: aws
    - id: db
      provider: gcp
      category: database

A component that matches nothing is reported with matched_via "none" and
suggestions. Unknown providers and unusable libraries are errors.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringP("provider", "p", "aws", "provider: aws, azure or gcp")
	resolveCmd.Flags().String("category", "", "category hint, e.g. compute")
	resolveCmd.Flags().String("display-name", "", "human readable name used by approximate matching")
	resolveCmd.Flags().StringP("file", "f", "", "YAML spec file of components")
	resolveCmd.Flags().StringP("format", "o", "json", "output format: json, jsonl or text")
	rootCmd.AddCommand(resolveCmd)
}

// specFile is the YAML document accepted by resolve --file.
type specFile struct {
	Components []resolver.Descriptor `yaml:"components"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	f, err := presentation.ParseFormat(format)
	if err != nil {
		return err
	}

	defaultProvider, _ := flags.GetString("provider")
	p, err := provider.Parse(defaultProvider)
	if err != nil {
		return err
	}

	var descriptors []resolver.Descriptor
	if path, _ := flags.GetString("file"); path != "" {
		if len(args) > 0 {
			return errors.New("pass either an id or --file, not both")
		}
		descriptors, err = readSpecFile(path, p)
		if err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return errors.New("an id or --file is required")
		}
		category, _ := flags.GetString("category")
		displayName, _ := flags.GetString("display-name")
		descriptors = []resolver.Descriptor{{ID: args[0], DisplayName: displayName, Provider: p, CategoryHint: category}}
	}

	ctx := cmd.Context()
	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.close(context.WithoutCancel(ctx)) }()

	dtos, err := resolveDescriptors(ctx, e.resolver, descriptors)
	if fmtErr := presentation.NewFormatter(cmd.OutOrStdout(), f).FormatResults(dtos); fmtErr != nil {
		return fmtErr
	}
	return err
}

// resolveDescriptors resolves every descriptor. Descriptors that fail are
// reported in place and their errors returned joined.
func resolveDescriptors(ctx context.Context, r *resolver.Resolver, descriptors []resolver.Descriptor) ([]presentation.ResultDTO, error) {
	results, err := r.ResolveAll(ctx, descriptors)

	dtos := make([]presentation.ResultDTO, len(results))
	for i, res := range results {
		dtos[i] = presentation.FromResult(res)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var failed *resolver.DescriptorError
			if errors.As(e, &failed) {
				dtos[failed.Index] = presentation.FromError(failed.Descriptor, failed.Err)
			}
		}
	}
	return dtos, err
}

func readSpecFile(path string, fallback provider.Provider) ([]resolver.Descriptor, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path) //nolint:gosec // G304: user supplied spec file
		if err != nil {
			return nil, fmt.Errorf("open spec file: %w", err)
		}
		defer func() { _ = file.Close() }()
		r = file
	}
	return decodeSpec(r, fallback)
}

func decodeSpec(r io.Reader, fallback provider.Provider) ([]resolver.Descriptor, error) {
	var spec specFile
	if err := yaml.NewDecoder(r).Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse spec file: %w", err)
	}
	for i := range spec.Components {
		if spec.Components[i].Provider == "" {
			spec.Components[i].Provider = fallback
		}
	}
	return spec.Components, nil
}

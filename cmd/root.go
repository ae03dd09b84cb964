package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/archnodes/internal/config"
	"github.com/zjrosen/archnodes/internal/log"
)

const localConfigPath = ".archnodes/config.yaml"

var (
	version  = "dev"
	cfgFile  string
	debug    bool
	logLevel string
	cfg      config.Config
	closeLog func()
)

var rootCmd = &cobra.Command{
	Use:   "archnodes",
	Short: "Resolve architecture components to diagram icon classes",
	Long: `archnodes maps component descriptors such as {id: "ec2", provider: "aws"}
onto the concrete icon classes of the installed diagrams library.

Each component is looked up, in order, as an exact class in its hinted
category, through the registry catalogs (verified against the library), as
an exact class in any category, and finally by approximate matching.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if closeLog != nil {
			closeLog()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/archnodes/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"write debug logs to archnodes.log")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "debug",
		"minimum level written to the debug log (debug, info, warn, error)")
}

func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .archnodes/config.yaml (current directory)
		// 2. ~/.config/archnodes/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "archnodes"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("archnodes")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setDefaults registers every config key so environment variables and
// partial config files fall back to config.Defaults.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("catalog.dir", d.Catalog.Dir)
	v.SetDefault("library.source", d.Library.Source)
	v.SetDefault("library.root", d.Library.Root)
	v.SetDefault("library.package", d.Library.Package)
	v.SetDefault("library.manifest", d.Library.Manifest)
	v.SetDefault("library.snapshot", d.Library.Snapshot)
	v.SetDefault("discovery.startup_timeout", d.Discovery.StartupTimeout)
	v.SetDefault("discovery.warm", d.Discovery.Warm)
	v.SetDefault("fuzzy.threshold", d.Fuzzy.Threshold)
	v.SetDefault("fuzzy.identifier_weight", d.Fuzzy.IdentifierWeight)
	v.SetDefault("fuzzy.description_weight", d.Fuzzy.DescriptionWeight)
	v.SetDefault("fuzzy.top_k", d.Fuzzy.TopK)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.disabled", d.Cache.Disabled)
	v.SetDefault("cache.sliding", d.Cache.Sliding)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

func setup(*cobra.Command, []string) error {
	if debug || os.Getenv("ARCHNODES_DEBUG") != "" {
		cleanup, err := log.Init("archnodes.log")
		if err != nil {
			return fmt.Errorf("initializing debug log: %w", err)
		}
		closeLog = cleanup
		log.SetMinLevel(log.ParseLevel(logLevel))
		log.Info(log.CatConfig, "Configuration loaded", "file", viper.ConfigFileUsed(), "source", cfg.Library.Source)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// configPath is the file settings are written back to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

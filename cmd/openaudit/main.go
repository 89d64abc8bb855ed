package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/store"
	"github.com/PentesterFlow/OpenAudit/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool

	// Store flags
	storeDriver string
	storeDSN    string
	storePath   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "openaudit",
		Short: "OpenAudit - SEO site audit crawler",
		Long: `OpenAudit - crawls a website, ranks its pages by navigational importance,
extracts SEO signals and reports structural issues such as broken links,
thin content, orphan pages and duplicate metadata.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Store driver (memory, bolt, postgres)")
	rootCmd.PersistentFlags().StringVar(&storeDSN, "dsn", "", "Postgres connection string")
	rootCmd.PersistentFlags().StringVar(&storePath, "db-path", "", "bbolt database file")

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newIssuesCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBlacklistCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the file configuration, or the defaults, with the
// global flags applied.
func loadConfig() (*crawler.Config, error) {
	config := crawler.DefaultConfig()
	if configFile != "" {
		fileConfig, err := crawler.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	if storeDriver != "" {
		config.Store.Driver = storeDriver
	}
	if storeDSN != "" {
		config.Store.DSN = storeDSN
		if storeDriver == "" {
			config.Store.Driver = store.DriverPostgres
		}
	}
	if storePath != "" {
		config.Store.Path = storePath
		if storeDriver == "" && storeDSN == "" {
			config.Store.Driver = store.DriverBolt
		}
	}
	if debug {
		config.Log.Level = "debug"
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func newLogger(config *crawler.Config) *logger.Logger {
	level, err := logger.ParseLevel(config.Log.Level)
	if err != nil {
		level = logger.InfoLevel
	}
	return logger.New(logger.Config{
		Level:  level,
		Pretty: config.Log.Pretty,
	})
}

func openStore(ctx context.Context, config *crawler.Config) (store.Store, error) {
	st, err := store.Open(ctx, config.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", config.Store.Driver, err)
	}
	return st, nil
}

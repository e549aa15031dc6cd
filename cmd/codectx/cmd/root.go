// Package cmd provides the CLI commands for codectx.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	"github.com/probeshift/codectx/internal/engine"
	"github.com/probeshift/codectx/internal/logging"
	"github.com/probeshift/codectx/internal/vectorstore"
	"github.com/probeshift/codectx/pkg/version"
)

var (
	cfgPath   string
	debugMode bool

	cfg            *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codectx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codectx",
		Short: "Semantic code indexing and search",
		Long: `codectx indexes a codebase into a vector store and answers
natural-language queries with ranked code spans.

Point it at a repository with 'codectx index', then ask questions with
'codectx search'. Indexes stay fresh through background reconciliation
while a command is running; 'codectx status' shows what is indexed.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codectx version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default <data_dir>/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRun = teardown

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and routes slog to the rotated log file so
// command output stays clean.
func setup(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = cfg.Logging.WriteToStderr
	if debugMode {
		logCfg.Level = "debug"
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// openEngine assembles the engine from the loaded configuration.
func openEngine() (*engine.Engine, error) {
	embedder, err := embed.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var store vectorstore.Store
	switch cfg.Store.Backend {
	case config.StoreBackendQdrant:
		store, err = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:           cfg.Store.Host,
			Port:           cfg.Store.Port,
			APIKey:         cfg.Store.APIKey,
			UseTLS:         cfg.Store.UseTLS,
			MaxCollections: cfg.Store.MaxCollections,
		})
		if err != nil {
			return nil, err
		}
	default:
		slog.Warn("using the in-memory vector store; indexes will not survive this process",
			slog.String("backend", cfg.Store.Backend))
		store = vectorstore.NewMemoryStore(cfg.Store.MaxCollections)
	}

	return engine.New(cfg, embedder, store)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

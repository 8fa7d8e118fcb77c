// Package cli provides the command-line interface for chatvault.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/conversation"
	"github.com/chatvault/chatvault/internal/metrics"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/chatvault/chatvault/internal/storage/memory"
	"github.com/chatvault/chatvault/internal/storage/sqlite"
	"github.com/chatvault/chatvault/internal/storage/surreal"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config, logger and storage adapter
	cfg       config.Config
	logger    *slog.Logger
	logClose  func() error
	adapter   storage.Adapter
	closeFunc func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatvault",
	Short: "Conversation and message store for chat applications",
	Long: `Chatvault manages conversations and messages across pluggable storage
backends (in-memory, SQLite, SurrealDB).

Conversations are reused within a configurable window, messages keep a stable
chronological order, and data can be migrated between backends.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip storage setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Level()
		if verbose {
			level = slog.LevelDebug
		}
		logger, logClose = config.SetupLogger(cfg.LogFile, level)

		// The migrate command opens its own source and target backends.
		if cmd.Name() == "migrate" {
			return nil
		}

		adapter, closeFunc, err = openBackend(cmd.Context(), cfg.Backend, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeFunc != nil {
			if err := closeFunc(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close storage: %v\n", err)
			}
		}
		if logClose != nil {
			_ = logClose()
		}
	},
}

// openBackend opens the named storage backend. The returned close function is
// nil for backends that hold no external resources.
func openBackend(ctx context.Context, backend, sqlitePath string) (storage.Adapter, func() error, error) {
	switch backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendSQLite:
		a, err := sqlite.New(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil

	case config.BackendSurreal:
		client, err := surreal.NewClient(ctx, cfg.SurrealConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, fmt.Errorf("initialize schema: %w", err)
		}
		return surreal.NewAdapter(client), func() error {
			return client.Close(context.Background())
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// newManager wires the conversation manager on top of the opened adapter.
func newManager(collector *metrics.Collector) *conversation.Manager {
	convCfg := cfg.ConversationConfig()
	hooks := conversation.NewHooks(logger)
	store := conversation.NewMessageStore(adapter, convCfg, hooks, logger,
		conversation.WithStoreObserver(collector))
	return conversation.NewManager(adapter, store, convCfg, hooks, logger,
		conversation.WithObserver(collector))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// The context carries process-level cancellation (shutdown signals).
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	// Add subcommands
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

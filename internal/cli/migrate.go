package cli

import (
	"context"
	"fmt"

	"github.com/chatvault/chatvault/internal/migrate"
	"github.com/spf13/cobra"
)

var (
	migrateFrom     string
	migrateTo       string
	migrateFromPath string
	migrateToPath   string
	migrateBatch    int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all conversations and messages between backends",
	Long: `Migrate copies every conversation and its messages from one storage
backend to another. The source is never modified, and conversations already
identical on the target are skipped, so an interrupted run can be repeated.

Examples:
  chatvault migrate --from sqlite --to surreal
  chatvault migrate --from sqlite --from-path old.db --to sqlite --to-path new.db`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source backend (memory, sqlite, surreal)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target backend (memory, sqlite, surreal)")
	migrateCmd.Flags().StringVar(&migrateFromPath, "from-path", "", "source SQLite database path (defaults to configured path)")
	migrateCmd.Flags().StringVar(&migrateToPath, "to-path", "", "target SQLite database path (defaults to configured path)")
	migrateCmd.Flags().IntVar(&migrateBatch, "batch", migrate.DefaultBatchSize, "conversations per batch")

	_ = migrateCmd.MarkFlagRequired("from")
	_ = migrateCmd.MarkFlagRequired("to")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	fromPath := migrateFromPath
	if fromPath == "" {
		fromPath = cfg.SQLitePath
	}
	toPath := migrateToPath
	if toPath == "" {
		toPath = cfg.SQLitePath
	}
	if migrateFrom == migrateTo && fromPath == toPath {
		return fmt.Errorf("source and target are the same backend")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	source, closeSource, err := openBackend(ctx, migrateFrom, fromPath)
	if err != nil {
		return fmt.Errorf("open source backend %s: %w", migrateFrom, err)
	}
	defer closeBackend(closeSource)

	target, closeTarget, err := openBackend(ctx, migrateTo, toPath)
	if err != nil {
		return fmt.Errorf("open target backend %s: %w", migrateTo, err)
	}
	defer closeBackend(closeTarget)

	ch := migrate.Run(ctx, source, target, migrateBatch, logger)
	return RunMigrationProgress(ch, cancel)
}

func closeBackend(fn func() error) {
	if fn != nil {
		_ = fn()
	}
}

package cli

import (
	"fmt"

	"github.com/chatvault/chatvault/internal/metrics"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deactivate conversations idle past the cleanup age",
	Long: `Cleanup soft-deletes every active conversation whose last update is
older than the configured cleanup age. Deactivated conversations keep their
messages and stay readable; they are just no longer reused.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	mgr := newManager(metrics.NewCollector())

	n, err := mgr.CleanupStale(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	mgr.Hooks().Wait()

	if n == 0 {
		fmt.Println("No stale conversations found.")
		return nil
	}
	fmt.Printf("Deactivated %d stale conversation(s).\n", n)
	return nil
}

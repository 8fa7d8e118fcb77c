package cli

import (
	"fmt"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/spf13/cobra"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	Long: `Stats prints the configured backend and conversation totals. With
--verbose the most recently created conversations are listed with their
message counts.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 20, "max conversations to list with --verbose")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	total, err := adapter.CountConversations(ctx)
	if err != nil {
		return fmt.Errorf("count conversations: %w", err)
	}

	fmt.Printf("Backend:       %s\n", cfg.Backend)
	if cfg.Backend == config.BackendSQLite {
		fmt.Printf("Database:      %s\n", cfg.SQLitePath)
	}
	fmt.Printf("Conversations: %d\n", total)

	if !verbose || total == 0 {
		return nil
	}

	convs, err := adapter.ListConversations(ctx, 0, statsLimit)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	fmt.Println()
	for _, conv := range convs {
		count, err := adapter.CountMessages(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("count messages for %s: %w", conv.ID, err)
		}
		activeMark := ""
		if !conv.IsActive {
			activeMark = " [inactive]"
		}
		fmt.Printf("- %s  user=%s  messages=%d  updated=%s%s\n",
			conv.ID, conv.UserID, count, conv.UpdatedAt.Format("2006-01-02 15:04"), activeMark)
	}

	return nil
}

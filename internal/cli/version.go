package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chatvault version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatvault %s\n", Version)
	},
}

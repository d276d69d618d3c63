package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st engine.Status
		if err := callEngine(cmd.Context(), ipc.OpStatus, nil, &st); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(st)
		}

		fmt.Printf("trust:     %.3f (%s)\n", st.Trust.Score, st.Trust.Tier.Name)
		fmt.Printf("actions:   %d (%d awaiting confirmation)\n", st.Actions, st.Pending)
		fmt.Printf("audit:     %d entries in ring, %d total\n", st.AuditSize, st.AuditTotal)
		fmt.Printf("up since:  %s\n", st.StartedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

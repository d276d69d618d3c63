package cli

import (
	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/ipc"
)

var executeCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Execute an approved action",
	Long: `Execute an approved action.

For actions that were approved with a confirmation requirement, this is the
confirmation: it consumes the pending approval (single use, and it expires)
and then runs the action.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var act action.Action
		if err := callEngine(cmd.Context(), ipc.OpExecute, ipc.ExecutePayload{ID: args[0]}, &act); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(act)
		}
		printAction(&act)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(executeCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/ipc"
)

var (
	submitParams      string
	submitDescription string
	submitActor       string
	submitSource      string
	submitUrgency     string
	submitYes         bool
	submitRollback    bool
	submitExecute     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <type> <resource>",
	Short: "Submit an action for governance evaluation",
	Long: `Submit an action for governance evaluation.

The action passes the trust gate, constitutional locks, the door-slam guard
and the confirmation policy, in that order. An approved action waits for
"warden execute" unless --execute chains it immediately.

Examples:
  warden submit file_read docs/readme.md --params '{"path":"docs/readme.md"}'
  warden submit file_write out.txt --params '{"path":"out.txt","content":"hi"}' --yes --execute`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := action.Request{
			Type:             args[0],
			Resource:         args[1],
			Description:      submitDescription,
			Actor:            submitActor,
			Source:           action.Source(submitSource),
			Urgency:          action.Urgency(submitUrgency),
			SkipConfirmation: submitYes,
			AutoRollback:     submitRollback,
		}
		if submitParams != "" {
			params, err := action.UnmarshalParams(args[0], []byte(submitParams))
			if err != nil {
				return err
			}
			req.Params = params
		}

		var act action.Action
		if err := callEngine(cmd.Context(), ipc.OpSubmit, req, &act); err != nil {
			return err
		}

		if submitExecute && act.Status == action.StatusApproved && !act.Metadata.RequiresConfirmation {
			if err := callEngine(cmd.Context(), ipc.OpExecute, ipc.ExecutePayload{ID: act.ID}, &act); err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(act)
		}
		printAction(&act)
		return nil
	},
}

// printAction renders one action for humans.
func printAction(act *action.Action) {
	fmt.Printf("%s  %s  %s %s\n", act.ID[:8], act.Status, act.Type, act.Resource)
	if act.Metadata.RequiresConfirmation && act.Status == action.StatusApproved {
		fmt.Printf("  awaiting confirmation: warden execute %s\n", act.ID[:8])
	}
	if act.Rejection != nil {
		fmt.Printf("  rejected at %s: %s\n", act.Rejection.Stage, act.Rejection.Reason)
		if act.Rejection.Required > 0 {
			fmt.Printf("  requires trust %.2f (current %.2f)\n", act.Rejection.Required, act.Rejection.Current)
		}
	}
	if act.Result != "" {
		fmt.Printf("  %s\n", act.Result)
	}
	if act.Failure != "" {
		fmt.Printf("  failed: %s\n", act.Failure)
	}
	if act.Rollback != nil {
		if act.Rollback.Success {
			fmt.Printf("  rolled back to snapshot %s\n", act.Rollback.RestoredRef)
		} else {
			fmt.Printf("  rollback failed: %s\n", act.Rollback.Err)
		}
	}
}

func init() {
	submitCmd.Flags().StringVar(&submitParams, "params", "", "action parameters as JSON")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "human-readable intent")
	submitCmd.Flags().StringVar(&submitActor, "actor", "", "who is asking")
	submitCmd.Flags().StringVar(&submitSource, "source", "", "origin: user_request, autonomous or scheduled")
	submitCmd.Flags().StringVar(&submitUrgency, "urgency", "", "urgency: low, normal or high")
	submitCmd.Flags().BoolVarP(&submitYes, "yes", "y", false, "waive interactive confirmation")
	submitCmd.Flags().BoolVar(&submitRollback, "rollback", false, "auto-rollback on execution failure")
	submitCmd.Flags().BoolVarP(&submitExecute, "execute", "x", false, "execute immediately when approved")
	rootCmd.AddCommand(submitCmd)
}

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/ipc"
)

var (
	listStatus string
	listType   string
	listActor  string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List actions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var acts []*action.Action
		err := callEngine(cmd.Context(), ipc.OpList, ipc.ListPayload{
			Status: listStatus,
			Type:   listType,
			Actor:  listActor,
			Limit:  listLimit,
		}, &acts)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(acts)
		}
		if len(acts) == 0 {
			fmt.Println("no actions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tRESOURCE\tACTOR\tAGE")
		for _, act := range acts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				act.ID[:8], act.Status, act.Type, act.Resource,
				act.Metadata.Actor, age(act.CreatedAt))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <action-id>",
	Short: "Show one action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var act action.Action
		if err := callEngine(cmd.Context(), ipc.OpGet, ipc.GetPayload{ID: args[0]}, &act); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(act)
		}
		printAction(&act)
		return nil
	},
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listType, "type", "", "filter by action type")
	listCmd.Flags().StringVar(&listActor, "actor", "", "filter by actor")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "cap the number of results")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
}

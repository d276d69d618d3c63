package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/client"
	"github.com/warden-project/warden/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream engine events until interrupted",
	Long: `Stream engine events until interrupted.

Connects to the daemon and prints every lifecycle event: approvals,
rejections, execution, rollbacks, tier changes and trust decay. Requires a
running daemon (events only exist where the state lives).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if standalone {
			return fmt.Errorf("watch needs the daemon; a standalone engine has nothing to observe")
		}

		conn, err := client.Connect()
		if err != nil {
			return fmt.Errorf("connect to daemon: %w (is it running?)", err)
		}
		defer conn.Close()

		// Close the connection on interrupt so the read loop ends.
		ctx := cmd.Context()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		return client.Watch(conn, func(ev events.Event) error {
			if jsonOutput {
				data, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			printEvent(ev)
			return nil
		})
	},
}

func printEvent(ev events.Event) {
	ts := ev.Time.Local().Format("15:04:05")
	switch {
	case ev.Tier != nil:
		fmt.Printf("%s  %-18s %s -> %s (trust %.3f)\n",
			ts, ev.Type, ev.Tier.From.Name, ev.Tier.To.Name, ev.Tier.Trust)
	case ev.Action != nil:
		fmt.Printf("%s  %-18s %s %s %s\n",
			ts, ev.Type, ev.Action.ID[:8], ev.Action.Type, ev.Action.Resource)
	default:
		fmt.Printf("%s  %-18s\n", ts, ev.Type)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

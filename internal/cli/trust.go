package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/ipc"
)

var trustSetActor string

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Show the trust score and tier table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var ts engine.TrustStatus
		if err := callEngine(cmd.Context(), ipc.OpTrust, nil, &ts); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(ts)
		}
		printTrust(&ts)
		return nil
	},
}

var trustSetCmd = &cobra.Command{
	Use:   "set <score>",
	Short: "Set the trust score (administrative override)",
	Long: `Set the trust score to an absolute value in [0, 1].

The override lands in the audit log as a trust_admin_set entry, attributed
to --actor.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("parse score %q: %w", args[0], err)
		}

		var ts engine.TrustStatus
		payload := ipc.SetTrustPayload{Score: score, Actor: trustSetActor}
		if err := callEngine(cmd.Context(), ipc.OpSetTrust, payload, &ts); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(ts)
		}
		printTrust(&ts)
		return nil
	},
}

func printTrust(ts *engine.TrustStatus) {
	fmt.Printf("trust %.3f — tier %s\n", ts.Score, ts.Tier.Name)
	if ts.Gap {
		fmt.Println("warning: tier table has gaps; scores falling in a gap resolve to the lowest tier")
	}
	for _, tier := range ts.Tiers {
		marker := " "
		if tier.ID == ts.Tier.ID {
			marker = "*"
		}
		fmt.Printf(" %s %-12s [%.2f, %.2f)\n", marker, tier.Name, tier.Min, tier.Max)
	}
	fmt.Printf("door-slam threshold: %.2f\n", ts.DoorSlam)
}

func init() {
	trustSetCmd.Flags().StringVar(&trustSetActor, "actor", "", "who is overriding")
	trustCmd.AddCommand(trustSetCmd)
	rootCmd.AddCommand(trustCmd)
}

package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/policy"
)

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List capability contracts",
	Long: `List capability contracts from the effective configuration.

A contract is what makes an action type requestable at all: the threshold
is the trust score the gate demands, and the flags say whether the action
mutates the workspace, supports dry-run, and can be rolled back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := cfg.CapabilityRegistry()
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(reg.Contracts())
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tTHRESHOLD\tMUTATING\tDRY-RUN\tROLLBACK\tRISK")
		for _, c := range reg.Contracts() {
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%s\n",
				c.Type, c.TrustThreshold, yn(c.Mutating), yn(c.DryRun), yn(c.Rollback), c.Risk)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("door-slam guarded types (trust floor %.2f): %s\n",
			cfg.Policy.DoorSlamThreshold, strings.Join(policy.HighRiskTypes(), ", "))
		return nil
	},
}

func yn(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(contractsCmd)
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/audit"
	"github.com/warden-project/warden/internal/ipc"
)

var (
	auditN      int
	auditOffset int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []audit.Entry
		payload := ipc.AuditRecentPayload{N: auditN, Offset: auditOffset}
		if err := callEngine(cmd.Context(), ipc.OpAuditRecent, payload, &entries); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("no audit entries")
			return nil
		}
		for _, e := range entries {
			data, _ := json.MarshalIndent(e, "", "  ")
			fmt.Printf("%s\n", data)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of the durable audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res ipc.VerifyResult
		if err := callEngine(cmd.Context(), ipc.OpAuditVerify, nil, &res); err != nil {
			return fmt.Errorf("audit verification FAILED: %w", err)
		}
		if jsonOutput {
			return outputJSON(res)
		}
		fmt.Printf("audit log integrity verified (%s)\n", res.Path)
		return nil
	},
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditN, "limit", "n", 20, "number of entries")
	auditTailCmd.Flags().IntVar(&auditOffset, "offset", 0, "skip the newest entries (page backwards)")
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

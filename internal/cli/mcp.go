package cli

import (
	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the Model Context Protocol on stdio",
	Long: `Serve the Model Context Protocol on stdio.

Agent runtimes launch this as a subprocess and call the warden tools
(request_action, execute_action, take_the_wheel, ...) over MCP. The engine
runs in-process and lives as long as the runtime keeps stdin open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		return mcpserver.New(eng, logger, Version).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

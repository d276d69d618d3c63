package cli

import (
	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/daemon"
	"github.com/warden-project/warden/internal/engine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the warden daemon in the foreground",
	Long: `Run the warden daemon in the foreground.

The daemon owns the engine state: the trust ledger, the action store and
the audit log. CLI commands spawn it automatically, so running it by hand
is only needed for supervision or debugging. It exits on its own after the
configured idle timeout.`,
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

		srv := daemon.New(eng, logger, cfg.Daemon.IdleTimeoutDuration())
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/autonomy"
	"github.com/warden-project/warden/internal/ipc"
)

var (
	wheelActor   string
	wheelConfirm bool
)

// wheelFile is the YAML shape for a proposal batch.
type wheelFile struct {
	Actor     string          `yaml:"actor"`
	Confirm   bool            `yaml:"confirm"`
	Proposals []wheelProposal `yaml:"proposals"`
}

type wheelProposal struct {
	Type        string         `yaml:"type"`
	Resource    string         `yaml:"resource"`
	Description string         `yaml:"description"`
	Params      map[string]any `yaml:"params"`
}

var wheelCmd = &cobra.Command{
	Use:   "wheel <proposals.yaml>",
	Short: "Run an autonomous batch of proposed actions",
	Long: `Run an autonomous batch of proposed actions.

Each proposal passes the same gates as "warden submit"; the batch runs in
order and trust moves after every action, so an early failure can narrow
what the rest of the batch is allowed to do.

Proposal file:
  actor: release-bot
  proposals:
    - type: dir_create
      resource: build
      params: {path: build}
    - type: file_write
      resource: build/version.txt
      params: {path: build/version.txt, content: "1.2.3"}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, proposals, err := loadProposals(args[0])
		if err != nil {
			return err
		}

		actor := file.Actor
		if wheelActor != "" {
			actor = wheelActor
		}
		confirm := file.Confirm
		if cmd.Flags().Changed("confirm") {
			confirm = wheelConfirm
		}

		var report autonomy.Report
		payload := ipc.WheelPayload{Proposals: proposals, Actor: actor, Confirm: confirm}
		if err := callEngine(cmd.Context(), ipc.OpWheel, payload, &report); err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(report)
		}

		fmt.Printf("batch %s: %d total, %d completed, %d failed, %d rolled back, %d rejected, %d pending\n",
			report.BatchID[:8], report.Total, report.Completed, report.Failed,
			report.RolledBack, report.Rejected, report.Pending)
		fmt.Printf("trust %.3f -> %.3f\n", report.TrustBefore, report.TrustAfter)
		for _, act := range report.Actions {
			printAction(act)
		}
		return nil
	},
}

// loadProposals reads and validates a proposal batch file.
func loadProposals(path string) (*wheelFile, []autonomy.Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read proposals: %w", err)
	}
	var file wheelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse proposals: %w", err)
	}
	if len(file.Proposals) == 0 {
		return nil, nil, fmt.Errorf("%s contains no proposals", path)
	}

	proposals := make([]autonomy.Proposal, 0, len(file.Proposals))
	for i, wp := range file.Proposals {
		p := autonomy.Proposal{
			Type:        wp.Type,
			Resource:    wp.Resource,
			Description: wp.Description,
		}
		params, err := action.DecodeParams(wp.Type, wp.Params)
		if err != nil {
			return nil, nil, fmt.Errorf("proposal %d: %w", i, err)
		}
		p.Params = params
		proposals = append(proposals, p)
	}
	return &file, proposals, nil
}

func init() {
	wheelCmd.Flags().StringVar(&wheelActor, "actor", "", "override the batch actor")
	wheelCmd.Flags().BoolVar(&wheelConfirm, "confirm", false, "hold approved actions for explicit confirmation")
	rootCmd.AddCommand(wheelCmd)
}

package cli

import (
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var owner string
	var isAIML bool

	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Onboard a new project and initialize its first gate",
		Long: `Creates a new project and its G1 gate in PENDING. The project id printed
by this command is required by every other castellan command.

Examples:
  castellan init "Checkout Revamp" --owner alice
  castellan init "Fraud Model" --owner alice --aiml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			projectID, err := c.Onboard(cmd.Context(), args[0], owner, isAIML)
			if err != nil {
				return err
			}
			return printResult(map[string]string{"project_id": projectID})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "project owner (required; only the owner may approve gates)")
	cmd.Flags().BoolVar(&isAIML, "aiml", false, "classify the project as AI/ML, widening required agents at G5/G6/G8")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

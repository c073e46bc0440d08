package cli

import (
	"github.com/spf13/cobra"
)

func newCostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost <project-id>",
		Short: "Report token usage recorded against a project, broken down by agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			byAgent, err := c.Costs.ByAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(byAgent)
		},
	}
	return cmd
}

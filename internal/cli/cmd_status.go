package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show a project's current gate and full gate list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			status, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(status)
		},
	}
}

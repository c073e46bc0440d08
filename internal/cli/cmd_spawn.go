package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaygate/castellan/internal/spawn"
)

func newSpawnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Record and complete agent spawns against the Agent Spawn Enforcer",
	}
	cmd.AddCommand(newSpawnRecordCmd(), newSpawnCompleteCmd())
	return cmd
}

func newSpawnRecordCmd() *cobra.Command {
	var gate, agent, task string

	cmd := &cobra.Command{
		Use:   "record <project-id>",
		Short: "Record that an agent was spawned for a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			spawnID, err := c.Spawns.RecordSpawn(cmd.Context(), args[0], agent, gate, task)
			if err != nil {
				return err
			}
			return printResult(map[string]string{"spawn_id": spawnID})
		},
	}
	cmd.Flags().StringVar(&gate, "gate", "", "gate the spawn is for")
	cmd.Flags().StringVar(&agent, "agent", "", "agent role name, e.g. \"Product Manager\"")
	cmd.Flags().StringVar(&task, "task", "", "task description assigned to the agent")
	return cmd
}

func newSpawnCompleteCmd() *cobra.Command {
	var status, summary string

	cmd := &cobra.Command{
		Use:   "complete <project-id> <spawn-id>",
		Short: "Record an agent spawn's terminal outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			return c.Spawns.CompleteSpawn(cmd.Context(), args[0], args[1], spawn.Status(status), summary, nil, nil)
		},
	}
	cmd.Flags().StringVar(&status, "status", string(spawn.StatusCompleted), "completed or failed")
	cmd.Flags().StringVar(&summary, "summary", "", "result summary")
	return cmd
}

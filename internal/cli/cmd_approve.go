package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaygate/castellan/internal/gatefsm"
)

func newApproveCmd() *cobra.Command {
	var response, notes, actor string
	var force bool

	cmd := &cobra.Command{
		Use:   "approve <project-id> <gate>",
		Short: "Approve a gate, subject to spawn, proof, and deliverable enforcement",
		Long: `Approves a gate (e.g. G2) only if: the project owner is the actor, every
gate before it is already approved, its required agents have a completed
spawn recorded, its proof requirements (if any) are satisfied, and every
deliverable registered for the project is complete.

--force-without-proofs is a policy escape valve: it bypasses the proof
check only, recording the bypass as forced=true on the gate_approved
event. It never bypasses agent spawn enforcement.

Examples:
  castellan approve abc123 G2 --response approved --actor alice
  castellan approve abc123 G3 --response approved --actor alice --force-without-proofs --notes "hotfix, proof pending"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			return c.ApproveGate(cmd.Context(), args[0], gatefsm.GateType(args[1]), actor, response, notes, force)
		},
	}

	cmd.Flags().StringVar(&response, "response", "approved", "free-text approval response (must contain approved/yes/approve/accept)")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes recorded with the approval")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id; must match the project owner")
	cmd.Flags().BoolVar(&force, "force-without-proofs", false, "bypass the proof-artifact check; recorded as forced=true on the approval event")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var reason, actor string

	cmd := &cobra.Command{
		Use:   "reject <project-id> <gate>",
		Short: "Reject a gate with a blocking reason",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			return c.Gates.RejectGate(cmd.Context(), args[0], gatefsm.GateType(args[1]), actor, reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "blocking reason recorded with the rejection")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

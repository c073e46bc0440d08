package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/proof"
)

func newProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Submit proof artifacts and inspect a gate's proof completeness",
	}
	cmd.AddCommand(newProofSubmitCmd(), newProofStatusCmd())
	return cmd
}

func newProofSubmitCmd() *cobra.Command {
	var gate, proofType, filePath, summary, createdBy string
	var fail bool

	cmd := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Submit a proof artifact for a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			passFail := proof.Pass
			if fail {
				passFail = proof.Fail
			}
			artifactID, err := c.Proofs.Submit(cmd.Context(), args[0], gate, proofType, filePath, summary, passFail, createdBy)
			if err != nil {
				return err
			}
			return printResult(map[string]string{"artifact_id": artifactID})
		},
	}
	cmd.Flags().StringVar(&gate, "gate", "", "gate the proof is submitted against")
	cmd.Flags().StringVar(&proofType, "type", "", "proof type, e.g. test_output, security_scan")
	cmd.Flags().StringVar(&filePath, "file", "", "path to the proof artifact's content")
	cmd.Flags().StringVar(&summary, "summary", "", "human-readable content summary")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "agent or actor that produced the proof")
	cmd.Flags().BoolVar(&fail, "fail", false, "mark the artifact as a failing result")
	return cmd
}

func newProofStatusCmd() *cobra.Command {
	var gate string

	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Report which required proof types a gate is still missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			status, err := c.Proofs.GateProofStatus(cmd.Context(), args[0], gatefsm.GateType(gate))
			if err != nil {
				return err
			}
			return printResult(status)
		},
	}
	cmd.Flags().StringVar(&gate, "gate", "", "gate to check")
	return cmd
}

// Package proof implements the Proof Artifact Ledger: content-addressed
// evidence submitted against a gate, with post-submission tamper
// detection via hash recomputation.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/truth"
)

// PassFail is the verdict recorded on submission.
type PassFail string

const (
	Pass PassFail = "pass"
	Fail PassFail = "fail"
)

// Verification is the result of recomputing and comparing a stored hash.
type Verification struct {
	Valid       bool
	StoredHash  string
	CurrentHash string
}

// GateProofStatus reports which required proof types a gate is still
// missing a passing artifact for.
type GateProofStatus struct {
	MissingProofs []string
	CanApprove    bool
}

// Ledger is the Proof Artifact Ledger, backed by the Truth Store.
type Ledger struct {
	store *truth.Store
}

// New constructs a Ledger backed by store.
func New(store *truth.Store) *Ledger {
	return &Ledger{store: store}
}

// Submit reads filePath, computes its SHA-256, and appends a
// proof_submitted event. The hash computed here is the artifact's
// permanent identity; Verify recomputes it later and compares.
func (l *Ledger) Submit(ctx context.Context, projectID, gate, proofType, filePath, contentSummary string, passFail PassFail, createdBy string) (string, error) {
	hash, err := hashFile(filePath)
	if err != nil {
		return "", err
	}
	artifactID := uuid.New().String()
	ev, err := truth.NewEvent(truth.EventProofSubmitted, projectID, createdBy, struct {
		ArtifactID     string `json:"artifact_id"`
		Gate           string `json:"gate"`
		ProofType      string `json:"proof_type"`
		FilePath       string `json:"file_path"`
		ContentHash    string `json:"content_hash"`
		ContentSummary string `json:"content_summary"`
		PassFail       string `json:"pass_fail"`
		CreatedBy      string `json:"created_by"`
	}{artifactID, gate, proofType, filePath, hash, contentSummary, string(passFail), createdBy})
	if err != nil {
		return "", cerrors.InvalidInput("build proof_submitted event", "check proof fields")
	}
	if _, err := l.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return artifactID, nil
}

// Verify recomputes the hash of the artifact's file and compares it to the
// hash stored at submission time. A mismatch means the evidence was
// altered after submission.
func (l *Ledger) Verify(ctx context.Context, projectID, artifactID string) (Verification, error) {
	artifact, err := l.store.GetProof(ctx, projectID, artifactID)
	if err != nil {
		return Verification{}, err
	}
	current, err := hashFile(artifact.FilePath)
	if err != nil {
		return Verification{}, err
	}
	valid := current == artifact.ContentHash
	ev, evErr := truth.NewEvent(truth.EventProofVerified, projectID, "system", truth.ProofEventPayload{
		ArtifactID: artifactID, Gate: artifact.GateType, ProofType: artifact.ProofType,
		Valid: &valid, StoredHash: artifact.ContentHash, CurrentHash: current,
	})
	if evErr == nil {
		_, _ = l.store.AppendEvent(ctx, ev)
	}
	return Verification{Valid: valid, StoredHash: artifact.ContentHash, CurrentHash: current}, nil
}

// GateProofStatus consults the per-gate required-proof matrix and reports
// which required proof types have no passing artifact yet. A gate with no
// entry in gatefsm.RequiredProofTypes is satisfied by any single pass
// proof of any type.
func (l *Ledger) GateProofStatus(ctx context.Context, projectID string, gate gatefsm.GateType) (GateProofStatus, error) {
	proofs, err := l.store.ListProofs(ctx, projectID, string(gate))
	if err != nil {
		return GateProofStatus{}, err
	}
	required, ok := gatefsm.RequiredProofTypes[gate]
	if !ok {
		for _, p := range proofs {
			if p.PassFail == string(Pass) {
				return GateProofStatus{CanApprove: true}, nil
			}
		}
		return GateProofStatus{MissingProofs: []string{"any"}, CanApprove: false}, nil
	}

	passing := make(map[string]bool)
	for _, p := range proofs {
		if p.PassFail == string(Pass) {
			passing[p.ProofType] = true
		}
	}
	var missing []string
	for _, proofType := range required {
		if !passing[proofType] {
			missing = append(missing, proofType)
		}
	}
	return GateProofStatus{MissingProofs: missing, CanApprove: len(missing) == 0}, nil
}

// ListForGate returns every artifact for a project, optionally filtered by
// gate (pass "" for all gates).
func (l *Ledger) ListForGate(ctx context.Context, projectID, gate string) ([]truth.ProofArtifact, error) {
	return l.store.ListProofs(ctx, projectID, gate)
}

// GenerateReport renders a markdown summary of every proof artifact
// submitted for a project, grouped by gate in gate order.
func (l *Ledger) GenerateReport(ctx context.Context, projectID string) (string, error) {
	proofs, err := l.store.ListProofs(ctx, projectID, "")
	if err != nil {
		return "", err
	}
	byGate := make(map[string][]truth.ProofArtifact)
	for _, p := range proofs {
		byGate[p.GateType] = append(byGate[p.GateType], p)
	}

	var gates []string
	for g := range byGate {
		gates = append(gates, g)
	}
	sort.Strings(gates)

	var b strings.Builder
	fmt.Fprintf(&b, "# Proof Report: %s\n\n", projectID)
	if len(gates) == 0 {
		b.WriteString("No proof artifacts submitted.\n")
		return b.String(), nil
	}
	for _, g := range gates {
		fmt.Fprintf(&b, "## %s\n\n", g)
		fmt.Fprintf(&b, "| Artifact | Type | Result | Submitted by |\n|---|---|---|---|\n")
		for _, p := range byGate[g] {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.ID, p.ProofType, p.PassFail, p.CreatedBy)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func hashFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", cerrors.UpstreamFailure("read proof file "+filePath, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

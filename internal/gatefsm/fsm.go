package gatefsm

import (
	"context"
	"fmt"
	"log/slog"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// deliverableComplete mirrors deliverable.StatusComplete; duplicated here
// rather than imported to avoid a dependency from the gate machine onto
// the deliverable tracker's package. canTransition's completeness check
// is gated on "complete", not the later "approved" review outcome.
const deliverableComplete = "complete"

// FSM is the Gate State Machine: it owns every write to a gate's status,
// reading the Truth Store snapshot to decide whether a transition is
// permitted and recording its decisions as events.
type FSM struct {
	store    *truth.Store
	logger   *slog.Logger
	registry map[GateType]Config
	// AllowGateSkip permits an explicit, audited skip of G4 for projects
	// that have no UX surface (API-only). Resolves the spec's second open
	// question: skipping is never implicit, always an event with an
	// audit trail, and gated behind this policy flag.
	AllowGateSkip bool
}

// New constructs a Gate State Machine backed by store, using registry for
// per-gate configuration (pass nil to use DefaultRegistry).
func New(store *truth.Store, logger *slog.Logger, registry map[GateType]Config) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	return &FSM{store: store, logger: logger, registry: registry}
}

// Initialize creates G1 in PENDING for a newly created project.
func (f *FSM) Initialize(ctx context.Context, projectID string) error {
	cfg := f.registry[G1]
	return f.store.UpsertGateDefinition(ctx, projectID, string(G1), cfg.RequiresProof, cfg.PassingCriteria, cfg.Description)
}

// IsApproved reports whether gate is APPROVED for projectID. A gate that
// does not exist yet (not yet reached) is not approved. Satisfies the
// gateOracle interface taskqueue consults to resolve gate_dependency
// blockers without importing this package directly.
func (f *FSM) IsApproved(ctx context.Context, projectID, gate string) (bool, error) {
	g, err := f.store.GetGate(ctx, projectID, gate)
	if err != nil {
		if ce, ok := err.(*cerrors.CastellanError); ok && ce.Code == cerrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	return g.Status == string(StatusApproved), nil
}

// CurrentGate returns the first gate in ordering that is not APPROVED; if
// all nine are approved, it returns the terminal gate G9.
func (f *FSM) CurrentGate(ctx context.Context, projectID string) (GateType, error) {
	gates, err := f.store.ListGates(ctx, projectID)
	if err != nil {
		return "", err
	}
	byType := make(map[GateType]truth.Gate, len(gates))
	for _, g := range gates {
		byType[GateType(g.GateType)] = g
	}
	for _, gt := range Ordering {
		g, ok := byType[gt]
		if !ok || g.Status != string(StatusApproved) {
			return gt, nil
		}
	}
	return G9, nil
}

// CanTransition checks, in the exact order the spec mandates, whether
// actorID may move projectID's gate into APPROVED. It does not mutate
// state; ApproveGate calls this before committing. forceWithoutProofs
// bypasses condition (4), the proof-artifact check, as a deliberate
// policy escape valve — every other condition still applies.
func (f *FSM) CanTransition(ctx context.Context, projectID string, gate GateType, actorID string, forceWithoutProofs bool) (ok bool, reason string, err error) {
	project, err := f.store.GetProject(ctx, projectID)
	if err != nil {
		return false, "", err
	}
	if project.Owner != actorID {
		return false, "", cerrors.Unauthorized(actorID, "approve gate "+string(gate))
	}

	g, err := f.store.GetGate(ctx, projectID, string(gate))
	if err != nil {
		return false, "", err
	}
	if g.Status == string(StatusApproved) || g.Status == string(StatusBlocked) {
		return false, fmt.Sprintf("gate %s is already %s", gate, g.Status), nil
	}

	if pred, hasPred := gate.Previous(); hasPred {
		predGate, err := f.store.GetGate(ctx, projectID, string(pred))
		if err != nil || predGate.Status != string(StatusApproved) {
			return false, fmt.Sprintf("predecessor gate %s is not yet approved", pred), nil
		}
	}

	if g.RequiresProof && !forceWithoutProofs {
		proofs, err := f.store.ListProofs(ctx, projectID, string(gate))
		if err != nil {
			return false, "", err
		}
		required := RequiredProofTypes[gate]
		if !hasRequiredPassingProofs(proofs, required) {
			if len(required) == 0 {
				return false, fmt.Sprintf("gate %s requires at least one passing proof artifact", gate), nil
			}
			return false, fmt.Sprintf("gate %s requires a passing proof for each of %v", gate, required), nil
		}
	}

	deliverables, err := f.store.ListDeliverables(ctx, projectID)
	if err != nil {
		return false, "", err
	}
	for _, d := range deliverables {
		if d.Status != deliverableComplete {
			return false, fmt.Sprintf("deliverable %s is not complete (status %s)", d.Name, d.Status), nil
		}
	}

	return true, "", nil
}

// hasRequiredPassingProofs reports whether proofs contains, for every
// required proof type, at least one pass-status artifact. If required is
// empty, any single passing proof of any type suffices (open question (a)).
func hasRequiredPassingProofs(proofs []truth.ProofArtifact, required []string) bool {
	passingTypes := make(map[string]bool)
	anyPass := false
	for _, p := range proofs {
		if p.PassFail == "pass" {
			passingTypes[p.ProofType] = true
			anyPass = true
		}
	}
	if len(required) == 0 {
		return anyPass
	}
	for _, rt := range required {
		if !passingTypes[rt] {
			return false
		}
	}
	return true
}

// TransitionToReview moves a gate from PENDING to IN_REVIEW, recording the
// review data supplied (e.g. the agent output under evaluation).
func (f *FSM) TransitionToReview(ctx context.Context, projectID string, gate GateType, reviewData map[string]any) error {
	g, err := f.store.GetGate(ctx, projectID, string(gate))
	if err != nil {
		return err
	}
	if g.Status != string(StatusPending) {
		return cerrors.PreconditionFailed(fmt.Sprintf("gate %s is %s, not PENDING", gate, g.Status))
	}
	ev, err := truth.NewEvent(truth.EventValidationTriggered, projectID, "system", map[string]any{
		"gate": string(gate), "review_data": reviewData,
	})
	if err != nil {
		return err
	}
	_, err = f.store.AppendEvent(ctx, ev)
	return err
}

// ApproveGate validates the approval response, runs CanTransition, and on
// success atomically: marks the gate APPROVED, advances the project's
// current gate, locks specs flagged for this gate, and creates the
// successor gate in PENDING with its configured criteria. Approving G9
// marks the project complete and creates no successor. forceWithoutProofs
// is the policy escape valve of spec.md §4.2: it bypasses the proof-artifact
// check and is itself recorded on the gate_approved event as Forced, so the
// bypass is never silent.
func (f *FSM) ApproveGate(ctx context.Context, projectID string, gate GateType, actorID, approvalResponse, notes string, forceWithoutProofs bool) error {
	valid, guidance := ValidateApprovalResponse(approvalResponse)
	if !valid {
		return cerrors.InvalidInput("approval response not accepted", guidance)
	}

	ok, reason, err := f.CanTransition(ctx, projectID, gate, actorID, forceWithoutProofs)
	if err != nil {
		return err
	}
	if !ok {
		return cerrors.PreconditionFailed(reason)
	}

	ev, err := truth.NewEvent(truth.EventGateApproved, projectID, actorID, struct {
		Gate string `json:"gate"`
		truth.GateApprovedPayload
	}{Gate: string(gate), GateApprovedPayload: truth.GateApprovedPayload{ApprovedBy: actorID, Notes: notes, Forced: forceWithoutProofs}})
	if err != nil {
		return err
	}
	if _, err := f.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	if gate == G3 {
		if err := f.lockSpecsForGate(ctx, projectID, actorID, gate); err != nil {
			return err
		}
	}

	next, hasNext := gate.Next()
	if !hasNext {
		return nil
	}
	cfg := f.registry[next]
	return f.store.UpsertGateDefinition(ctx, projectID, string(next), cfg.RequiresProof, cfg.PassingCriteria, cfg.Description)
}

// lockSpecsForGate locks every registered spec for the project, emitting a
// spec_locked event per spec type. Called on G3 approval.
func (f *FSM) lockSpecsForGate(ctx context.Context, projectID, actorID string, gate GateType) error {
	specs, err := f.store.ListSpecRegistrations(ctx, projectID)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if spec.Locked {
			continue
		}
		ev, err := truth.NewEvent(truth.EventSpecLocked, projectID, actorID, truth.SpecLockedPayload{
			SpecType: spec.SpecType, LockedBy: actorID, Gate: string(gate),
		})
		if err != nil {
			return err
		}
		if _, err := f.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RejectGate marks gate REJECTED with blockingReason and creates no
// successor gate.
func (f *FSM) RejectGate(ctx context.Context, projectID string, gate GateType, actorID, blockingReason string) error {
	g, err := f.store.GetGate(ctx, projectID, string(gate))
	if err != nil {
		return err
	}
	if g.Status == string(StatusApproved) {
		return cerrors.PreconditionFailed(fmt.Sprintf("gate %s is already approved", gate))
	}
	ev, err := truth.NewEvent(truth.EventGateRejected, projectID, actorID, struct {
		Gate string `json:"gate"`
		truth.GateRejectedPayload
	}{Gate: string(gate), GateRejectedPayload: truth.GateRejectedPayload{RejectedBy: actorID, BlockingReason: blockingReason}})
	if err != nil {
		return err
	}
	_, err = f.store.AppendEvent(ctx, ev)
	return err
}

// BlockGate marks gate BLOCKED with blockingReason, e.g. after repeated
// self-healing failures. No successor is created and the gate cannot
// transition again without external intervention.
func (f *FSM) BlockGate(ctx context.Context, projectID string, gate GateType, actorID, blockingReason string) error {
	ev, err := truth.NewEvent(truth.EventGateBlocked, projectID, actorID, struct {
		Gate string `json:"gate"`
		truth.GateBlockedPayload
	}{Gate: string(gate), GateBlockedPayload: truth.GateBlockedPayload{BlockingReason: blockingReason}})
	if err != nil {
		return err
	}
	_, err = f.store.AppendEvent(ctx, ev)
	return err
}

// SkipGate records an explicit, audited skip of gate (only ever used for
// G4 on API-only projects, per AllowGateSkip) as an approval carrying a
// "skipped" marker rather than silently omitting the gate from the
// sequence.
func (f *FSM) SkipGate(ctx context.Context, projectID string, gate GateType, actorID, justification string) error {
	if !f.AllowGateSkip {
		return cerrors.PreconditionFailed("gate skipping is disabled for this deployment")
	}
	if gate != G4 {
		return cerrors.InvalidInput("only G4 may be skipped", "G4 (UX/UI design review) is the only gate this policy covers")
	}
	ev, err := truth.NewEvent(truth.EventGateSkipped, projectID, actorID, map[string]string{
		"gate": string(gate), "justification": justification,
	})
	if err != nil {
		return err
	}
	if _, err := f.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	next, hasNext := gate.Next()
	if !hasNext {
		return nil
	}
	cfg := f.registry[next]
	return f.store.UpsertGateDefinition(ctx, projectID, string(next), cfg.RequiresProof, cfg.PassingCriteria, cfg.Description)
}

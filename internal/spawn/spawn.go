// Package spawn implements the Agent Spawn Enforcer: the gate-keeping
// contract that the orchestrator process may not itself perform the work
// of a gate, it must delegate to the named required agent and prove that
// delegation happened before presenting the gate for approval.
package spawn

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/truth"
)

// RequiredAgents maps each gate to the agent role(s) that must complete a
// spawn before the gate can be presented for approval. AI/ML projects add
// agents beyond this base set; see RequiredAgentsForProject.
var RequiredAgents = map[gatefsm.GateType][]string{
	gatefsm.G2: {"Product Manager"},
	gatefsm.G3: {"Architect"},
	gatefsm.G4: {"UX/UI Designer"},
	gatefsm.G5: {"Frontend Developer", "Backend Developer"},
	gatefsm.G6: {"QA Engineer"},
	gatefsm.G7: {"Security & Privacy Engineer"},
	gatefsm.G8: {"DevOps Engineer"},
	gatefsm.G9: {"DevOps Engineer"},
}

// aiMLSupplement lists the additional required agents for AI/ML projects,
// keyed by the same gates.
var aiMLSupplement = map[gatefsm.GateType][]string{
	gatefsm.G5: {"ML Engineer", "Prompt Engineer"},
	gatefsm.G6: {"Model Evaluator"},
	gatefsm.G8: {"AIOps Engineer"},
}

// RequiredAgentsForProject returns the required agents for a gate,
// including the AI/ML supplement when isAIML is set. G1 and E2 (and any
// gate absent from RequiredAgents) have none.
func RequiredAgentsForProject(gate gatefsm.GateType, isAIML bool) []string {
	base := append([]string(nil), RequiredAgents[gate]...)
	if isAIML {
		base = append(base, aiMLSupplement[gate]...)
	}
	return base
}

// Status is an agent spawn's lifecycle state.
type Status string

const (
	StatusSpawned   Status = "spawned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TokenUsage is the per-spawn cost the caller reports on completion.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Validation is the result of ValidateForGate.
type Validation struct {
	RequiredAgents []string
	Spawned        bool
	Completed      bool
	CanPresentGate bool
	BlockingReason string
}

// WorkCheck is the result of ValidateBeforeGateWork.
type WorkCheck struct {
	CanProceed         bool
	RequiredAction     string
	ViolationIfProceed string
}

// Enforcer is the Agent Spawn Enforcer, backed by the Truth Store.
type Enforcer struct {
	store  *truth.Store
	isAIML func(ctx context.Context, projectID string) (bool, error)
}

// New constructs an Enforcer. isAIML classifies a project as AI/ML for the
// purpose of the supplemental required-agent table, reading the
// classification back from wherever it was durably recorded (the Truth
// Store's project snapshot); pass nil to treat every project as non-AI/ML.
func New(store *truth.Store, isAIML func(ctx context.Context, projectID string) (bool, error)) *Enforcer {
	if isAIML == nil {
		isAIML = func(context.Context, string) (bool, error) { return false, nil }
	}
	return &Enforcer{store: store, isAIML: isAIML}
}

// RecordSpawn appends agent_spawned and returns the new spawn's id. Must
// be called immediately before starting the agent's task.
func (e *Enforcer) RecordSpawn(ctx context.Context, projectID, agentName, gate, taskDescription string) (string, error) {
	spawnID := uuid.New().String()
	ev, err := truth.NewEvent(truth.EventAgentSpawned, projectID, agentName, truth.AgentSpawnPayload{
		SpawnID: spawnID, AgentName: agentName, Gate: gate, TaskDescription: taskDescription, Status: string(StatusSpawned),
	})
	if err != nil {
		return "", cerrors.InvalidInput("build agent_spawned event", "check spawn fields")
	}
	if _, err := e.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return spawnID, nil
}

// CompleteSpawn appends agent_completed recording the outcome. tokenUsage
// is forwarded onto the spawn record itself; internal/costledger reads it
// back from there rather than being called directly, keeping the Truth
// Store the single writer of spawn state.
func (e *Enforcer) CompleteSpawn(ctx context.Context, projectID, spawnID string, status Status, resultSummary string, proofArtifactIDs []string, tokenUsage *TokenUsage) error {
	if status != StatusCompleted && status != StatusFailed {
		return cerrors.InvalidInput("complete spawn", "status must be completed or failed")
	}
	spawn, err := e.store.GetSpawn(ctx, projectID, spawnID)
	if err != nil {
		return err
	}
	if spawn.Status == string(StatusCompleted) || spawn.Status == string(StatusFailed) {
		return cerrors.Conflict("spawn " + spawnID + " is already " + spawn.Status)
	}
	payload := truth.AgentSpawnPayload{
		SpawnID: spawnID, AgentName: spawn.AgentName, Gate: spawn.Gate,
		Status: string(status), ResultSummary: resultSummary, ProofArtifactIDs: proofArtifactIDs,
	}
	if tokenUsage != nil {
		payload.InputTokens = tokenUsage.InputTokens
		payload.OutputTokens = tokenUsage.OutputTokens
	}
	ev, err := truth.NewEvent(truth.EventAgentCompleted, projectID, spawn.AgentName, payload)
	if err != nil {
		return cerrors.InvalidInput("build agent_completed event", "check completion fields")
	}
	_, err = e.store.AppendEvent(ctx, ev)
	return err
}

// ValidateForGate reports whether every required agent for gate has at
// least one completed spawn.
func (e *Enforcer) ValidateForGate(ctx context.Context, projectID string, gate gatefsm.GateType) (Validation, error) {
	isAIML, err := e.isAIML(ctx, projectID)
	if err != nil {
		return Validation{}, err
	}
	required := RequiredAgentsForProject(gate, isAIML)
	if len(required) == 0 {
		return Validation{RequiredAgents: required, CanPresentGate: true}, nil
	}
	spawns, err := e.store.ListSpawns(ctx, projectID, string(gate))
	if err != nil {
		return Validation{}, err
	}
	anySpawned := len(spawns) > 0
	missing := make([]string, 0, len(required))
	for _, agent := range required {
		if !hasCompletedSpawn(spawns, agent) {
			missing = append(missing, agent)
		}
	}
	v := Validation{
		RequiredAgents: required,
		Spawned:        anySpawned,
		Completed:      len(missing) == 0,
		CanPresentGate: len(missing) == 0,
	}
	if len(missing) > 0 {
		v.BlockingReason = fmt.Sprintf("gate %s requires completed spawns for %v, missing %v", gate, required, missing)
	}
	return v, nil
}

func hasCompletedSpawn(spawns []truth.AgentSpawn, agentName string) bool {
	for _, s := range spawns {
		if s.AgentName == agentName && s.Status == string(StatusCompleted) {
			return true
		}
	}
	return false
}

// ValidateBeforeGateWork is the enforcement point the orchestrator must
// consult before performing any gate-related work itself. canProceed is
// false whenever the gate has required agents that have not all completed
// a spawn — the caller must spawn the agent instead of doing the work.
func (e *Enforcer) ValidateBeforeGateWork(ctx context.Context, projectID string, gate gatefsm.GateType, intendedAction string) (WorkCheck, error) {
	v, err := e.ValidateForGate(ctx, projectID, gate)
	if err != nil {
		return WorkCheck{}, err
	}
	if v.CanPresentGate {
		return WorkCheck{CanProceed: true}, nil
	}
	requiredAction := fmt.Sprintf("spawn and complete %v before performing %q", v.RequiredAgents, intendedAction)
	violation := cerrors.ProtocolViolation(string(gate), fmt.Sprintf("%v", v.RequiredAgents)).Error()
	return WorkCheck{CanProceed: false, RequiredAction: requiredAction, ViolationIfProceed: violation}, nil
}

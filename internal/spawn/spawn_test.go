package spawn

import (
	"context"
	"testing"

	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *truth.Store) {
	t.Helper()
	store, err := truth.Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ev, _ := truth.NewEvent(truth.EventProjectCreated, "p1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return New(store, nil), store
}

func TestValidateForGateWithNoRequiredAgentsCanPresent(t *testing.T) {
	e, _ := newTestEnforcer(t)
	v, err := e.ValidateForGate(context.Background(), "p1", gatefsm.G1)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.CanPresentGate {
		t.Errorf("expected G1 to require no agents, got %+v", v)
	}
}

func TestValidateForGateBlocksUntilAgentCompletes(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()

	v, err := e.ValidateForGate(ctx, "p1", gatefsm.G3)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CanPresentGate {
		t.Fatal("expected G3 blocked before any spawn")
	}

	spawnID, err := e.RecordSpawn(ctx, "p1", "Architect", string(gatefsm.G3), "design the system")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	v, err = e.ValidateForGate(ctx, "p1", gatefsm.G3)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CanPresentGate {
		t.Fatal("expected still blocked while spawn is not completed")
	}

	if err := e.CompleteSpawn(ctx, "p1", spawnID, StatusCompleted, "architecture doc ready", nil, nil); err != nil {
		t.Fatalf("complete spawn: %v", err)
	}
	v, err = e.ValidateForGate(ctx, "p1", gatefsm.G3)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.CanPresentGate {
		t.Errorf("expected can present gate after completion, got %+v", v)
	}
}

func TestValidateForGateRequiresAllAgentsForMultiAgentGate(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()

	feID, err := e.RecordSpawn(ctx, "p1", "Frontend Developer", string(gatefsm.G5), "build UI")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	if err := e.CompleteSpawn(ctx, "p1", feID, StatusCompleted, "done", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	v, err := e.ValidateForGate(ctx, "p1", gatefsm.G5)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CanPresentGate {
		t.Fatal("expected still blocked, backend developer missing")
	}

	beID, err := e.RecordSpawn(ctx, "p1", "Backend Developer", string(gatefsm.G5), "build API")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	if err := e.CompleteSpawn(ctx, "p1", beID, StatusCompleted, "done", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	v, err = e.ValidateForGate(ctx, "p1", gatefsm.G5)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.CanPresentGate {
		t.Errorf("expected both developers complete to satisfy G5, got %+v", v)
	}
}

func TestValidateForGateAIMLAddsSupplementalAgents(t *testing.T) {
	store, err := truth.Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	ev, _ := truth.NewEvent(truth.EventProjectCreated, "p1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	e := New(store, func(context.Context, string) (bool, error) { return true, nil })

	v, err := e.ValidateForGate(ctx, "p1", gatefsm.G6)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	found := false
	for _, a := range v.RequiredAgents {
		if a == "Model Evaluator" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Model Evaluator required for AI/ML project, got %v", v.RequiredAgents)
	}
}

func TestValidateBeforeGateWorkBlocksUntilAgentDone(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()

	wc, err := e.ValidateBeforeGateWork(ctx, "p1", gatefsm.G7, "write the threat model myself")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if wc.CanProceed {
		t.Fatal("expected orchestrator blocked from doing security gate work itself")
	}
	if wc.ViolationIfProceed == "" {
		t.Error("expected a violation explanation")
	}

	spawnID, err := e.RecordSpawn(ctx, "p1", "Security & Privacy Engineer", string(gatefsm.G7), "threat model")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	if err := e.CompleteSpawn(ctx, "p1", spawnID, StatusCompleted, "threat model done", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	wc, err = e.ValidateBeforeGateWork(ctx, "p1", gatefsm.G7, "present the gate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !wc.CanProceed {
		t.Errorf("expected proceed allowed after agent completed, got %+v", wc)
	}
}

func TestCompleteSpawnForwardsTokenUsage(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()

	spawnID, err := e.RecordSpawn(ctx, "p1", "Architect", string(gatefsm.G3), "design")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	if err := e.CompleteSpawn(ctx, "p1", spawnID, StatusCompleted, "done", []string{"proof-1"}, &TokenUsage{InputTokens: 1000, OutputTokens: 250}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	spawn, err := store.GetSpawn(ctx, "p1", spawnID)
	if err != nil {
		t.Fatalf("get spawn: %v", err)
	}
	if spawn.InputTokens != 1000 || spawn.OutputTokens != 250 {
		t.Errorf("expected token usage recorded, got %+v", spawn)
	}
	if len(spawn.ProofArtifactIDs) != 1 || spawn.ProofArtifactIDs[0] != "proof-1" {
		t.Errorf("expected proof artifact id recorded, got %v", spawn.ProofArtifactIDs)
	}
}

func TestCompleteSpawnRejectsInvalidStatus(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()

	spawnID, err := e.RecordSpawn(ctx, "p1", "Architect", string(gatefsm.G3), "design")
	if err != nil {
		t.Fatalf("record spawn: %v", err)
	}
	if err := e.CompleteSpawn(ctx, "p1", spawnID, StatusRunning, "", nil, nil); err == nil {
		t.Fatal("expected rejection of non-terminal status")
	}
}

func TestCheckParallelSpawnConflictsDetectsOverlap(t *testing.T) {
	canParallel, conflicts := CheckParallelSpawnConflicts([]AgentFileOwnership{
		{AgentName: "Frontend Developer", FileOwnership: []string{"src/frontend/**"}},
		{AgentName: "Backend Developer", FileOwnership: []string{"src/frontend/**"}},
	})
	if canParallel {
		t.Fatal("expected conflict when two agents own the same path pattern")
	}
	if len(conflicts) != 1 || conflicts[0].Agent1 != "Frontend Developer" {
		t.Errorf("unexpected conflicts: %+v", conflicts)
	}
}

func TestCheckParallelSpawnConflictsAllowsDisjointOwnership(t *testing.T) {
	canParallel, conflicts := CheckParallelSpawnConflicts([]AgentFileOwnership{
		{AgentName: "Frontend Developer", FileOwnership: []string{"src/frontend/**"}},
		{AgentName: "Backend Developer", FileOwnership: []string{"src/backend/**"}},
	})
	if !canParallel || len(conflicts) != 0 {
		t.Errorf("expected no conflict for disjoint ownership, got %+v", conflicts)
	}
}

func TestCheckParallelSpawnConflictsIgnoresSharedPaths(t *testing.T) {
	canParallel, conflicts := CheckParallelSpawnConflicts([]AgentFileOwnership{
		{AgentName: "Frontend Developer", FileOwnership: []string{"src/types/**"}},
		{AgentName: "Backend Developer", FileOwnership: []string{"src/types/**"}},
	})
	if !canParallel || len(conflicts) != 0 {
		t.Errorf("expected shared types path excluded from conflict detection, got %+v", conflicts)
	}
}

func TestCheckParallelSpawnConflictsUsesDefaultOwnershipWhenEmpty(t *testing.T) {
	canParallel, conflicts := CheckParallelSpawnConflicts([]AgentFileOwnership{
		{AgentName: "Frontend Developer"},
		{AgentName: "Backend Developer"},
	})
	if !canParallel || len(conflicts) != 0 {
		t.Errorf("expected default ownership to be disjoint for frontend/backend, got %+v", conflicts)
	}
}

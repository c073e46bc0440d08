package toolserver

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/relaygate/castellan/internal/core"
	"github.com/relaygate/castellan/internal/deliverable"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/proof"
	"github.com/relaygate/castellan/internal/spawn"
	"github.com/relaygate/castellan/internal/taskqueue"
	"github.com/relaygate/castellan/internal/truth"
)

func arg(params json.RawMessage, path string) string {
	return gjson.GetBytes(params, path).String()
}

func argBool(params json.RawMessage, path string) bool {
	return gjson.GetBytes(params, path).Bool()
}

func argStrings(params json.RawMessage, path string) []string {
	var out []string
	for _, v := range gjson.GetBytes(params, path).Array() {
		out = append(out, v.String())
	}
	return out
}

// funcTool adapts a plain function into a Tool, the common case for every
// tool below: decode nothing upfront, call into core with fields read
// directly out of the raw params via gjson, marshal whatever comes back.
type funcTool struct {
	name, description string
	schema            json.RawMessage
	fn                func(ctx context.Context, params json.RawMessage) (any, error)
}

func (t *funcTool) Name() string                 { return t.name }
func (t *funcTool) Description() string          { return t.description }
func (t *funcTool) InputSchema() json.RawMessage { return t.schema }
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	result, err := t.fn(ctx, params)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(result)
}

var objectSchema = json.RawMessage(`{"type":"object"}`)

func passFailFrom(params json.RawMessage) proof.PassFail {
	if arg(params, "pass_fail") == string(proof.Fail) {
		return proof.Fail
	}
	return proof.Pass
}

func deliverableStatusFrom(params json.RawMessage) deliverable.Status {
	return deliverable.Status(arg(params, "status"))
}

func truthEventFilter(params json.RawMessage) truth.EventLogFilter {
	return truth.EventLogFilter{Gate: arg(params, "gate"), TaskID: arg(params, "task_id")}
}

func newTool(name, description string, fn func(ctx context.Context, params json.RawMessage) (any, error)) Tool {
	return &funcTool{name: name, description: description, schema: objectSchema, fn: fn}
}

// Register wires one tool per castellan tool group into registry, each
// backed by a real c *core.Core operation or Truth Store projection.
func Register(registry *Registry, c *core.Core) {
	// project / onboarding
	registry.Register(newTool("project_onboard", "Create a new project and initialize G1", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Onboard(ctx, arg(p, "name"), arg(p, "owner"), argBool(p, "is_aiml"))
	}))

	// state
	registry.Register(newTool("state_get", "Get the full derived state snapshot for a project", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Store.GetState(ctx, arg(p, "project_id"))
	}))

	// task
	registry.Register(newTool("task_enqueue", "Enqueue a new task", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Tasks.Enqueue(ctx, arg(p, "project_id"), taskqueue.NewTask{
			ID:             arg(p, "id"),
			Type:           arg(p, "type"),
			Priority:       taskqueue.Priority(arg(p, "priority")),
			WorkerCategory: arg(p, "worker_category"),
			Description:    arg(p, "description"),
			DependsOn:      argStrings(p, "depends_on"),
			GateDependency: arg(p, "gate_dependency"),
			SpecRefs:       argStrings(p, "spec_refs"),
		})
	}))
	registry.Register(newTool("task_dequeue", "Dequeue the next eligible task for a worker", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Tasks.Dequeue(ctx, arg(p, "project_id"), arg(p, "worker_id"), arg(p, "category"))
	}))
	registry.Register(newTool("task_complete", "Mark a task complete or failed", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Tasks.Complete(ctx, arg(p, "project_id"), arg(p, "task_id"), arg(p, "worker_id"), taskqueue.Outcome(arg(p, "outcome")), arg(p, "output"), arg(p, "error"))
	}))
	registry.Register(newTool("task_retry", "Retry a failed task", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Tasks.Retry(ctx, arg(p, "project_id"), arg(p, "task_id"))
	}))

	// work-status
	registry.Register(newTool("work_status_history", "Get a task's full event history", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Tasks.History(ctx, arg(p, "project_id"), arg(p, "task_id"))
	}))

	// gates / decision
	registry.Register(newTool("gates_approve", "Approve the project's gate (subject to spawn enforcement); set force_without_proofs to bypass the proof-artifact check with an audited forced flag", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.ApproveGate(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "actor_id"), arg(p, "approval_response"), arg(p, "notes"), argBool(p, "force_without_proofs"))
	}))
	registry.Register(newTool("gates_reject", "Reject the project's gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Gates.RejectGate(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "actor_id"), arg(p, "blocking_reason"))
	}))
	registry.Register(newTool("gates_block", "Block the project's gate after repeated failures", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Gates.BlockGate(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "actor_id"), arg(p, "blocking_reason"))
	}))
	registry.Register(newTool("gates_skip", "Skip a gate with an audited justification", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Gates.SkipGate(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "actor_id"), arg(p, "justification"))
	}))
	registry.Register(newTool("gates_status", "Report the project's current gate and full gate list", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Status(ctx, arg(p, "project_id"))
	}))

	// phase (alias over gate status, the spec's generic "phase" vocabulary)
	registry.Register(newTool("phase_current", "Report the project's current phase (gate)", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Gates.CurrentGate(ctx, arg(p, "project_id"))
	}))

	// specs
	registry.Register(newTool("specs_register", "Register or re-register a spec file", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Specs.RegisterSpec(ctx, arg(p, "project_id"), arg(p, "spec_type"), arg(p, "file_path"))
	}))
	registry.Register(newTool("specs_lock", "Lock every registered spec for a gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Specs.LockSpecs(ctx, arg(p, "project_id"), arg(p, "gate"), arg(p, "locked_by"))
	}))
	registry.Register(newTool("specs_is_locked", "Check whether a spec type is locked", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Specs.IsLocked(ctx, arg(p, "project_id"), arg(p, "spec_type"))
	}))

	// validation / enforcement-tracking
	registry.Register(newTool("validation_for_gate", "Check the Agent Spawn Enforcer's verdict for a gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Spawns.ValidateForGate(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")))
	}))
	registry.Register(newTool("enforcement_check_before_work", "Check whether the orchestrator may perform gate work itself", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Spawns.ValidateBeforeGateWork(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "intended_action"))
	}))

	// agent-spawn
	registry.Register(newTool("agent_spawn_record", "Record that the named agent was spawned for a gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Spawns.RecordSpawn(ctx, arg(p, "project_id"), arg(p, "agent_name"), arg(p, "gate"), arg(p, "task_description"))
	}))
	registry.Register(newTool("agent_spawn_complete", "Record an agent spawn's terminal outcome", func(ctx context.Context, p json.RawMessage) (any, error) {
		var usage *spawn.TokenUsage
		if gjson.GetBytes(p, "input_tokens").Exists() {
			usage = &spawn.TokenUsage{InputTokens: int(gjson.GetBytes(p, "input_tokens").Int()), OutputTokens: int(gjson.GetBytes(p, "output_tokens").Int())}
		}
		return nil, c.Spawns.CompleteSpawn(ctx, arg(p, "project_id"), arg(p, "spawn_id"), spawn.Status(arg(p, "status")), arg(p, "result_summary"), argStrings(p, "proof_artifact_ids"), usage)
	}))

	// proof-artifact
	registry.Register(newTool("proof_submit", "Submit a proof artifact for a gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Proofs.Submit(ctx, arg(p, "project_id"), arg(p, "gate"), arg(p, "proof_type"), arg(p, "file_path"), arg(p, "content_summary"), passFailFrom(p), arg(p, "created_by"))
	}))
	registry.Register(newTool("proof_verify", "Re-verify a submitted proof artifact's checksum", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Proofs.Verify(ctx, arg(p, "project_id"), arg(p, "artifact_id"))
	}))
	registry.Register(newTool("proof_gate_status", "Report a gate's proof completeness", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Proofs.GateProofStatus(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")))
	}))
	registry.Register(newTool("proof_report", "Generate the project's full proof report", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Proofs.GenerateReport(ctx, arg(p, "project_id"))
	}))

	// workers
	registry.Register(newTool("workers_register", "Register a worker into a category", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Workers.Register(ctx, arg(p, "worker_id"), arg(p, "category"), argStrings(p, "capabilities"))
	}))
	registry.Register(newTool("workers_available", "List idle workers for a category", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Workers.AvailableForCategory(ctx, arg(p, "category"))
	}))

	// cost / metrics
	registry.Register(newTool("cost_for_project", "Report every recorded token usage entry for a project", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Costs.ForProject(ctx, arg(p, "project_id"))
	}))
	registry.Register(newTool("cost_by_agent", "Report total tokens consumed per agent for a project", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Costs.ByAgent(ctx, arg(p, "project_id"))
	}))

	// document
	registry.Register(newTool("document_latest", "Fetch the most recent version of a gate's document", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Documents.Latest(arg(p, "project_id"), arg(p, "gate"), arg(p, "document_type"))
	}))
	registry.Register(newTool("document_revise", "Store a new revised version of a gate's document", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Documents.Revise(arg(p, "project_id"), arg(p, "gate"), arg(p, "document_type"), arg(p, "content"))
	}))

	// context / notes / handoff (read-only views over the event log, the
	// spec's generic per-project "context" vocabulary)
	registry.Register(newTool("context_event_log", "Fetch the project's raw event log", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Store.GetEventLog(ctx, arg(p, "project_id"), truthEventFilter(p))
	}))

	// session (assessment sessions)
	registry.Register(newTool("session_start_assessment", "Start a parallel assessment session across agents", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Assessments.Start(ctx, arg(p, "project_id"), argStrings(p, "agents"))
	}))
	registry.Register(newTool("session_submit_assessment", "Submit one agent's section result into an assessment session", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Assessments.SubmitResult(ctx, arg(p, "project_id"), arg(p, "session_id"), arg(p, "agent"), arg(p, "section"), gjson.GetBytes(p, "score").Float(), arg(p, "findings"), arg(p, "metrics"))
	}))
	registry.Register(newTool("session_aggregate_assessment", "Aggregate a completed assessment session's weighted score", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Assessments.Aggregate(ctx, arg(p, "project_id"), arg(p, "session_id"))
	}))

	// learning / feedback (the revision loop's entry point)
	registry.Register(newTool("learning_handle_message", "Classify a review message and trigger a revision if it is feedback", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.HandleReviewMessage(ctx, arg(p, "project_id"), gatefsm.GateType(arg(p, "gate")), arg(p, "message"))
	}))

	// deliverable tracking (the spec's "decision" vocabulary for tracked outputs)
	registry.Register(newTool("decision_register_deliverable", "Register a tracked deliverable against a gate", func(ctx context.Context, p json.RawMessage) (any, error) {
		return c.Deliverables.Register(ctx, arg(p, "project_id"), arg(p, "gate_id"), arg(p, "deliverable_type"), arg(p, "name"))
	}))
	registry.Register(newTool("decision_change_deliverable_status", "Change a tracked deliverable's review status", func(ctx context.Context, p json.RawMessage) (any, error) {
		return nil, c.Deliverables.ChangeStatus(ctx, arg(p, "project_id"), arg(p, "deliverable_id"), deliverableStatusFrom(p))
	}))
}

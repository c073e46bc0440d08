// Package core is castellan's composition root: it wires the Truth Store
// to every other subsystem (Gate State Machine, Task Queue, Worker Pool,
// Agent Spawn Enforcer, Proof Ledger, Cost Ledger, Parallel Assessment
// Aggregator, Document store, Feedback-Driven Revision Loop, Spec
// Registry, Deliverable Tracker, Streaming Execution Bridge) and exposes
// the handful of cross-cutting operations — onboarding a project and
// approving a gate — that touch more than one of them.
package core

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/relaygate/castellan/internal/assessment"
	"github.com/relaygate/castellan/internal/config"
	"github.com/relaygate/castellan/internal/costledger"
	"github.com/relaygate/castellan/internal/deliverable"
	"github.com/relaygate/castellan/internal/document"
	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/proof"
	"github.com/relaygate/castellan/internal/revision"
	"github.com/relaygate/castellan/internal/spawn"
	"github.com/relaygate/castellan/internal/specs"
	"github.com/relaygate/castellan/internal/streambridge"
	"github.com/relaygate/castellan/internal/taskqueue"
	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
	"github.com/relaygate/castellan/internal/workerpool"
)

// Core holds every wired subsystem. Every field is safe for concurrent use
// by multiple goroutines; Core itself adds no locking of its own, since the
// Truth Store is the only place any of this state lives.
type Core struct {
	Store        *truth.Store
	Gates        *gatefsm.FSM
	Tasks        *taskqueue.Queue
	Workers      *workerpool.Registry
	Spawns       *spawn.Enforcer
	Proofs       *proof.Ledger
	Costs        *costledger.Ledger
	Assessments  *assessment.Aggregator
	Documents    *document.Store
	Revisions    *revision.Loop
	Specs        *specs.Registry
	Deliverables *deliverable.Tracker
	Bridge       *streambridge.Bridge

	logger *slog.Logger
}

// Open opens the Truth Store per cfg.Store and wires every subsystem
// around it. runtime backs the Streaming Execution Bridge; pass an
// *agentruntime.Stub or *agentruntime.Router.
func Open(cfg config.Config, runtime streambridge.Runtime, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialect := driver.DialectSQLite
	if cfg.Store.Mode == "service" {
		dialect = driver.DialectPostgres
	} else if cfg.Store.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
			return nil, cerrors.UpstreamFailure("create store directory", err)
		}
	}
	if cfg.DocumentsDir != "" {
		if err := os.MkdirAll(cfg.DocumentsDir, 0o755); err != nil {
			return nil, cerrors.UpstreamFailure("create documents directory", err)
		}
	}
	store, err := truth.Open(dialect, cfg.Store.DSN, logger)
	if err != nil {
		return nil, err
	}
	return New(store, cfg, runtime, logger), nil
}

// New wires every subsystem around an already-open store. Exposed
// separately from Open so tests can wire against an in-memory SQLite
// store without going through config.
func New(store *truth.Store, cfg config.Config, runtime streambridge.Runtime, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		Store:  store,
		logger: logger,
	}
	c.Gates = gatefsm.New(store, logger, cfg.GateRegistry())
	c.Gates.AllowGateSkip = cfg.AllowGateSkip
	c.Tasks = taskqueue.New(store, c.Gates)
	c.Workers = workerpool.New(store)
	c.Spawns = spawn.New(store, c.isAIML)
	c.Proofs = proof.New(store)
	c.Costs = costledger.New(store)
	c.Assessments = assessment.New(store)
	c.Documents = document.New(cfg.DocumentsDir)
	c.Specs = specs.New(store)
	c.Deliverables = deliverable.New(store)
	c.Bridge = streambridge.New(runtime)
	c.Revisions = revision.New(store, c.Documents, c.Bridge, c.Spawns)
	return c
}

// Close releases the underlying Truth Store handle.
func (c *Core) Close() error {
	return c.Store.Close()
}

// isAIML derives a project's AI/ML classification from the Truth Store's
// project snapshot, rebuilt by replaying project_created — there is no
// in-process cache of it, so a restart or a second Core wired against the
// same store sees the same classification.
func (c *Core) isAIML(ctx context.Context, projectID string) (bool, error) {
	project, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	return project.IsAIML, nil
}

// Onboard creates a new project, records its AI/ML classification on the
// project_created event (which widens the required-agent set at
// G5/G6/G8 per spawn.RequiredAgentsForProject), and initializes G1 in
// PENDING. It returns the new project id.
func (c *Core) Onboard(ctx context.Context, name, owner string, isAIML bool) (string, error) {
	if name == "" || owner == "" {
		return "", cerrors.InvalidInput("project name and owner are required", "pass a non-empty name and owner")
	}
	projectID := uuid.New().String()
	ev, err := truth.NewEvent(truth.EventProjectCreated, projectID, owner, map[string]any{"name": name, "owner": owner, "is_aiml": isAIML})
	if err != nil {
		return "", cerrors.InvalidInput("build project_created event", "check project fields")
	}
	if _, err := c.Store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}

	if err := c.Gates.Initialize(ctx, projectID); err != nil {
		return "", err
	}
	return projectID, nil
}

// ApproveGate enforces the Agent Spawn Enforcer's gate before delegating
// to the Gate State Machine: a gate may not be approved until every
// required agent for it has a completed spawn recorded, regardless of
// whether its proof and deliverable requirements are otherwise satisfied.
// forceWithoutProofs bypasses only the Gate State Machine's proof-artifact
// check (spec.md §4.2's policy escape valve) — it never bypasses spawn
// enforcement, which has no such escape valve.
func (c *Core) ApproveGate(ctx context.Context, projectID string, gate gatefsm.GateType, actorID, approvalResponse, notes string, forceWithoutProofs bool) error {
	validation, err := c.Spawns.ValidateForGate(ctx, projectID, gate)
	if err != nil {
		return err
	}
	if !validation.CanPresentGate {
		return cerrors.PreconditionFailed(validation.BlockingReason)
	}
	return c.Gates.ApproveGate(ctx, projectID, gate, actorID, approvalResponse, notes, forceWithoutProofs)
}

// HandleReviewMessage routes a message received while a gate is under
// review through the Feedback Classifier and, if it is feedback, the
// Feedback-Driven Revision Loop.
func (c *Core) HandleReviewMessage(ctx context.Context, projectID string, gate gatefsm.GateType, message string) (revision.Outcome, error) {
	return c.Revisions.HandleMessage(ctx, projectID, gate, message)
}

// StatusReport summarizes a project's current position for display.
type StatusReport struct {
	Project     truth.Project
	CurrentGate gatefsm.GateType
	Gates       []truth.Gate
}

// Status assembles a StatusReport for projectID.
func (c *Core) Status(ctx context.Context, projectID string) (StatusReport, error) {
	project, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return StatusReport{}, err
	}
	current, err := c.Gates.CurrentGate(ctx, projectID)
	if err != nil {
		return StatusReport{}, err
	}
	gates, err := c.Store.ListGates(ctx, projectID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Project: project, CurrentGate: current, Gates: gates}, nil
}

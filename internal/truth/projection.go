package truth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth/driver"
)

// applyEvent updates the cached derived-state tables for ev, inside the same
// transaction the event row was inserted in. Unknown event types are a
// no-op: not every event needs a projection (human_input, decision_made,
// risk_added/resolved, validation_*, self_healing are audit-only today).
func (s *Store) applyEvent(ctx context.Context, tx driver.Tx, ev Event) error {
	switch ev.Type {
	case EventProjectCreated:
		return s.applyProjectCreated(ctx, tx, ev)
	case EventGateApproved, EventGateRejected, EventGateBlocked, EventGateSkipped:
		return s.applyGateTransition(ctx, tx, ev)
	case EventSpecRegistered:
		return s.applySpecRegistered(ctx, tx, ev)
	case EventSpecLocked:
		return s.applySpecLocked(ctx, tx, ev)
	case EventTaskCreated, EventTaskStarted, EventTaskCompleted, EventTaskFailed, EventTaskRetried:
		return s.applyTaskTransition(ctx, tx, ev)
	case EventAgentSpawned, EventAgentCompleted:
		return s.applySpawnTransition(ctx, tx, ev)
	case EventProofSubmitted, EventProofVerified:
		return s.applyProofEvent(ctx, tx, ev)
	case EventDeliverableRegistered, EventDeliverableChanged:
		return s.applyDeliverableEvent(ctx, tx, ev)
	case EventAssessmentStarted, EventAssessmentCompleted:
		return s.applyAssessmentEvent(ctx, tx, ev)
	case EventAssessmentSlotUpdated:
		return s.applyAssessmentSlotUpdated(ctx, tx, ev)
	default:
		return nil
	}
}

func (s *Store) applyProjectCreated(ctx context.Context, tx driver.Tx, ev Event) error {
	var p struct {
		Name   string `json:"name"`
		Owner  string `json:"owner"`
		IsAIML bool   `json:"is_aiml"`
	}
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("project_created payload", "provide name and owner")
	}
	q := fmt.Sprintf("INSERT INTO projects (id, name, owner, current_gate, completed, is_aiml, created_at) VALUES (%s, %s, %s, '', 0, %s, %s)",
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5))
	_, err := tx.Exec(ctx, q, ev.ProjectID, p.Name, p.Owner, boolInt(p.IsAIML), ev.Timestamp.Format(time.RFC3339Nano))
	return wrapProjErr(err, "insert project")
}

func (s *Store) applyGateTransition(ctx context.Context, tx driver.Tx, ev Event) error {
	switch ev.Type {
	case EventGateApproved:
		var p GateApprovedPayload
		_ = ev.DecodePayload(&p)
		var gate string
		_ = json.Unmarshal(ev.Payload, &struct {
			Gate *string `json:"gate"`
		}{&gate})
		return s.updateGateStatus(ctx, tx, ev, "APPROVED", p.ApprovedBy, p.Notes, "")
	case EventGateRejected:
		var p GateRejectedPayload
		_ = ev.DecodePayload(&p)
		return s.updateGateStatus(ctx, tx, ev, "REJECTED", p.RejectedBy, "", p.BlockingReason)
	case EventGateBlocked:
		var p GateBlockedPayload
		_ = ev.DecodePayload(&p)
		return s.updateGateStatus(ctx, tx, ev, "BLOCKED", "", "", p.BlockingReason)
	case EventGateSkipped:
		return s.updateGateStatus(ctx, tx, ev, "APPROVED", ev.Actor, "skipped", "")
	}
	return nil
}

func (s *Store) updateGateStatus(ctx context.Context, tx driver.Tx, ev Event, status, approvedBy, notes, blockingReason string) error {
	var gate struct {
		Gate string `json:"gate"`
	}
	_ = ev.DecodePayload(&gate)
	if gate.Gate == "" {
		return nil
	}
	q := fmt.Sprintf(`UPDATE gates SET status = %s, approved_by = %s, approved_at = %s, review_notes = %s, blocking_reason = %s
		WHERE project_id = %s AND gate_type = %s`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5),
		s.drv.Placeholder(6), s.drv.Placeholder(7))
	_, err := tx.Exec(ctx, q, status, nullableString(approvedBy), ev.Timestamp.Format(time.RFC3339Nano),
		nullableString(notes), nullableString(blockingReason), ev.ProjectID, gate.Gate)
	if err != nil {
		return wrapProjErr(err, "update gate status")
	}
	if status == "APPROVED" {
		uq := fmt.Sprintf("UPDATE projects SET current_gate = %s, completed = %s WHERE id = %s", s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3))
		if _, err := tx.Exec(ctx, uq, gate.Gate, boolInt(gate.Gate == "G9"), ev.ProjectID); err != nil {
			return wrapProjErr(err, "update project current gate")
		}
	}
	return nil
}

func (s *Store) applySpecRegistered(ctx context.Context, tx driver.Tx, ev Event) error {
	var p SpecRegisteredPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("spec_registered payload", "provide spec_type, path, checksum")
	}
	q := fmt.Sprintf(`INSERT INTO spec_registrations (project_id, spec_type, path, checksum, version, locked)
		VALUES (%s, %s, %s, %s, %s, 0)`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5))
	_, err := tx.Exec(ctx, q, ev.ProjectID, p.SpecType, p.Path, p.Checksum, p.Version)
	return wrapProjErr(err, "insert spec registration")
}

func (s *Store) applySpecLocked(ctx context.Context, tx driver.Tx, ev Event) error {
	var p SpecLockedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("spec_locked payload", "provide spec_type, locked_by")
	}
	q := fmt.Sprintf(`UPDATE spec_registrations SET locked = 1, locked_by = %s, locked_at = %s
		WHERE project_id = %s AND spec_type = %s`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4))
	_, err := tx.Exec(ctx, q, p.LockedBy, ev.Timestamp.Format(time.RFC3339Nano), ev.ProjectID, p.SpecType)
	return wrapProjErr(err, "lock spec registration")
}

func (s *Store) applyTaskTransition(ctx context.Context, tx driver.Tx, ev Event) error {
	var p TaskEventPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("task event payload", "provide task_id")
	}
	dependsOn, _ := json.Marshal(p.DependsOn)
	specRefs, _ := json.Marshal(p.SpecRefs)
	blockers, _ := json.Marshal(p.Blockers)

	switch ev.Type {
	case EventTaskCreated:
		status := p.Status
		if status == "" {
			status = "QUEUED"
		}
		maxAttempts := p.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = 3
		}
		q := fmt.Sprintf(`INSERT INTO tasks (id, project_id, type, priority, worker_category, description, status, blockers, depends_on, gate_dependency, spec_refs, attempts, max_attempts, created_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, 0, %s, %s)`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5),
			s.drv.Placeholder(6), s.drv.Placeholder(7), s.drv.Placeholder(8), s.drv.Placeholder(9), s.drv.Placeholder(10),
			s.drv.Placeholder(11), s.drv.Placeholder(12), s.drv.Placeholder(13))
		_, err := tx.Exec(ctx, q, p.TaskID, ev.ProjectID, p.Type, p.Priority, p.WorkerCategory, p.Description, status,
			string(blockers), string(dependsOn), nullableString(p.GateDependency), string(specRefs), maxAttempts,
			ev.Timestamp.Format(time.RFC3339Nano))
		return wrapProjErr(err, "insert task")
	case EventTaskStarted:
		q := fmt.Sprintf(`UPDATE tasks SET status = 'IN_PROGRESS', assigned_worker = %s, started_at = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4))
		_, err := tx.Exec(ctx, q, p.AssignedWorker, ev.Timestamp.Format(time.RFC3339Nano), p.TaskID, ev.ProjectID)
		return wrapProjErr(err, "start task")
	case EventTaskCompleted:
		q := fmt.Sprintf(`UPDATE tasks SET status = 'COMPLETED', completed_at = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3))
		_, err := tx.Exec(ctx, q, ev.Timestamp.Format(time.RFC3339Nano), p.TaskID, ev.ProjectID)
		return wrapProjErr(err, "complete task")
	case EventTaskFailed:
		q := fmt.Sprintf(`UPDATE tasks SET status = 'FAILED', attempts = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3))
		_, err := tx.Exec(ctx, q, p.Attempts, p.TaskID, ev.ProjectID)
		return wrapProjErr(err, "fail task")
	case EventTaskRetried:
		q := fmt.Sprintf(`UPDATE tasks SET status = 'QUEUED', priority = %s, attempts = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4))
		_, err := tx.Exec(ctx, q, p.Priority, p.Attempts, p.TaskID, ev.ProjectID)
		return wrapProjErr(err, "retry task")
	}
	return nil
}

func (s *Store) applySpawnTransition(ctx context.Context, tx driver.Tx, ev Event) error {
	var p AgentSpawnPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("spawn event payload", "provide spawn_id")
	}
	switch ev.Type {
	case EventAgentSpawned:
		q := fmt.Sprintf(`INSERT INTO agent_spawns (id, project_id, agent_name, gate, task_description, status, spawned_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4),
			s.drv.Placeholder(5), s.drv.Placeholder(6), s.drv.Placeholder(7))
		_, err := tx.Exec(ctx, q, p.SpawnID, ev.ProjectID, p.AgentName, p.Gate, p.TaskDescription, p.Status, ev.Timestamp.Format(time.RFC3339Nano))
		return wrapProjErr(err, "insert agent spawn")
	case EventAgentCompleted:
		ids, _ := json.Marshal(p.ProofArtifactIDs)
		q := fmt.Sprintf(`UPDATE agent_spawns SET status = %s, completed_at = %s, result_summary = %s,
			proof_artifact_ids = %s, input_tokens = %s, output_tokens = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4),
			s.drv.Placeholder(5), s.drv.Placeholder(6), s.drv.Placeholder(7), s.drv.Placeholder(8))
		_, err := tx.Exec(ctx, q, p.Status, ev.Timestamp.Format(time.RFC3339Nano), p.ResultSummary,
			string(ids), p.InputTokens, p.OutputTokens, p.SpawnID, ev.ProjectID)
		return wrapProjErr(err, "complete agent spawn")
	}
	return nil
}

func (s *Store) applyProofEvent(ctx context.Context, tx driver.Tx, ev Event) error {
	if ev.Type != EventProofSubmitted {
		return nil
	}
	var p struct {
		ArtifactID     string `json:"artifact_id"`
		Gate           string `json:"gate"`
		ProofType      string `json:"proof_type"`
		FilePath       string `json:"file_path"`
		ContentHash    string `json:"content_hash"`
		ContentSummary string `json:"content_summary"`
		PassFail       string `json:"pass_fail"`
		CreatedBy      string `json:"created_by"`
	}
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("proof_submitted payload", "provide artifact_id, gate, proof_type, content_hash")
	}
	q := fmt.Sprintf(`INSERT INTO proof_artifacts (id, project_id, gate_type, proof_type, file_path, content_hash, content_summary, pass_fail, created_by, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5),
		s.drv.Placeholder(6), s.drv.Placeholder(7), s.drv.Placeholder(8), s.drv.Placeholder(9), s.drv.Placeholder(10))
	_, err := tx.Exec(ctx, q, p.ArtifactID, ev.ProjectID, p.Gate, p.ProofType, p.FilePath, p.ContentHash,
		p.ContentSummary, p.PassFail, p.CreatedBy, ev.Timestamp.Format(time.RFC3339Nano))
	return wrapProjErr(err, "insert proof artifact")
}

func (s *Store) applyDeliverableEvent(ctx context.Context, tx driver.Tx, ev Event) error {
	var p DeliverablePayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("deliverable event payload", "provide deliverable_id, type, name, status")
	}
	switch ev.Type {
	case EventDeliverableRegistered:
		q := fmt.Sprintf(`INSERT INTO deliverables (id, project_id, gate_id, type, name, status)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4),
			s.drv.Placeholder(5), s.drv.Placeholder(6))
		_, err := tx.Exec(ctx, q, p.DeliverableID, ev.ProjectID, nullableString(p.GateID), p.Type, p.Name, p.Status)
		return wrapProjErr(err, "insert deliverable")
	case EventDeliverableChanged:
		q := fmt.Sprintf(`UPDATE deliverables SET status = %s WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3))
		_, err := tx.Exec(ctx, q, p.Status, p.DeliverableID, ev.ProjectID)
		return wrapProjErr(err, "update deliverable status")
	}
	return nil
}

func (s *Store) applyAssessmentEvent(ctx context.Context, tx driver.Tx, ev Event) error {
	var p AssessmentPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("assessment event payload", "provide session_id")
	}
	switch ev.Type {
	case EventAssessmentStarted:
		q := fmt.Sprintf(`INSERT INTO assessment_sessions (id, project_id, started_at, expires_at, status)
			VALUES (%s, %s, %s, %s, 'IN_PROGRESS')`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4))
		expires := ev.Timestamp.Add(30 * time.Minute).Format(time.RFC3339Nano)
		if _, err := tx.Exec(ctx, q, p.SessionID, ev.ProjectID, ev.Timestamp.Format(time.RFC3339Nano), expires); err != nil {
			return wrapProjErr(err, "insert assessment session")
		}
		for _, agent := range p.Agents {
			sq := fmt.Sprintf(`INSERT INTO assessment_slots (session_id, agent, status) VALUES (%s, %s, 'pending')`,
				s.drv.Placeholder(1), s.drv.Placeholder(2))
			if _, err := tx.Exec(ctx, sq, p.SessionID, agent); err != nil {
				return wrapProjErr(err, "insert assessment slot")
			}
		}
		return nil
	case EventAssessmentCompleted:
		q := fmt.Sprintf(`UPDATE assessment_sessions SET aggregated_score = %s, recommendation = %s, status = %s
			WHERE id = %s AND project_id = %s`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5))
		_, err := tx.Exec(ctx, q, p.AggregatedScore, p.Recommendation, p.Status, p.SessionID, ev.ProjectID)
		return wrapProjErr(err, "complete assessment session")
	}
	return nil
}

func (s *Store) applyAssessmentSlotUpdated(ctx context.Context, tx driver.Tx, ev Event) error {
	var p AssessmentSlotPayload
	if err := ev.DecodePayload(&p); err != nil {
		return cerrors.InvalidInput("assessment slot event payload", "provide session_id and agent")
	}
	findings := p.Findings
	if findings == "" {
		findings = "{}"
	}
	metrics := p.Metrics
	if metrics == "" {
		metrics = "{}"
	}
	q := fmt.Sprintf(`UPDATE assessment_slots SET status = %s, section = %s, score = %s, findings = %s, metrics = %s
		WHERE session_id = %s AND agent = %s`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5),
		s.drv.Placeholder(6), s.drv.Placeholder(7))
	res, err := tx.Exec(ctx, q, p.Status, nullableString(p.Section), p.Score, findings, metrics, p.SessionID, p.Agent)
	if err != nil {
		return wrapProjErr(err, "update assessment slot")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		iq := fmt.Sprintf(`INSERT INTO assessment_slots (session_id, agent, status, section, score, findings, metrics)
			VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4),
			s.drv.Placeholder(5), s.drv.Placeholder(6), s.drv.Placeholder(7))
		_, err := tx.Exec(ctx, iq, p.SessionID, p.Agent, p.Status, nullableString(p.Section), p.Score, findings, metrics)
		return wrapProjErr(err, "insert assessment slot")
	}
	return nil
}

func wrapProjErr(err error, what string) error {
	if err == nil {
		return nil
	}
	return cerrors.UpstreamFailure(what, err)
}

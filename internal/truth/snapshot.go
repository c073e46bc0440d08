package truth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	cerrors "github.com/relaygate/castellan/internal/errors"
)

// Project is the derived row for a castellan project.
type Project struct {
	ID          string
	Name        string
	Owner       string
	CurrentGate string
	Completed   bool
	IsAIML      bool
	CreatedAt   time.Time
}

// Gate is the derived row for one project's gate slot.
type Gate struct {
	ProjectID       string
	GateType        string
	Status          string
	RequiresProof   bool
	PassingCriteria string
	Description     string
	ApprovedBy      string
	ApprovedAt      *time.Time
	ReviewNotes     string
	BlockingReason  string
}

// ProofArtifact is the derived row for a submitted proof.
type ProofArtifact struct {
	ID             string
	ProjectID      string
	GateType       string
	ProofType      string
	FilePath       string
	ContentHash    string
	ContentSummary string
	PassFail       string
	CreatedBy      string
	CreatedAt      time.Time
}

// Deliverable is the derived row for a tracked output artifact.
type Deliverable struct {
	ID        string
	ProjectID string
	GateID    string
	Type      string
	Name      string
	Status    string
	Path      string
	Owner     string
	Version   string
}

// Task is the derived row for a queued unit of work.
type Task struct {
	ID             string
	ProjectID      string
	Type           string
	Priority       string
	WorkerCategory string
	Description    string
	Status         string
	Blockers       []string
	DependsOn      []string
	GateDependency string
	SpecRefs       []string
	AssignedWorker string
	Attempts       int
	MaxAttempts    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// AgentSpawn is the derived row for an agent dispatch record.
type AgentSpawn struct {
	ID               string
	ProjectID        string
	AgentName        string
	Gate             string
	TaskDescription  string
	Status           string
	SpawnedAt        time.Time
	CompletedAt      *time.Time
	ResultSummary    string
	ProofArtifactIDs []string
	InputTokens      int
	OutputTokens     int
}

// SpecRegistration is the derived row for a registered spec document.
type SpecRegistration struct {
	ProjectID string
	SpecType  string
	Path      string
	Checksum  string
	Version   int
	Locked    bool
	LockedBy  string
	LockedAt  *time.Time
}

// AssessmentSession is the derived row for a parallel assessment run.
type AssessmentSession struct {
	ID              string
	ProjectID       string
	StartedAt       time.Time
	ExpiresAt       time.Time
	AggregatedScore *float64
	Recommendation  string
	Status          string
}

// AssessmentSlot is the derived row for one evaluator agent's status
// within an assessment session.
type AssessmentSlot struct {
	SessionID string
	Agent     string
	Status    string
	Section   string
	Score     *float64
	Findings  string
	Metrics   string
}

// Worker is the derived row for a registered worker. Unlike the other
// projection types, workers are a global resource shared across projects.
type Worker struct {
	ID             string
	Category       string
	Capabilities   string
	Status         string
	CurrentTask    string
	TasksCompleted int
}

// UpsertWorker inserts or updates a worker row directly (workers are not
// scoped to a project's event log; see workerpool.Registry).
func (s *Store) UpsertWorker(ctx context.Context, w Worker) error {
	existing, err := s.ListWorkers(ctx, "")
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID == w.ID {
			q := fmt.Sprintf(`UPDATE workers SET category = %s, capabilities = %s, status = %s, current_task = %s, tasks_completed = %s WHERE id = %s`,
				s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5), s.drv.Placeholder(6))
			_, err := s.drv.Exec(ctx, q, w.Category, w.Capabilities, w.Status, nullableString(w.CurrentTask), w.TasksCompleted, w.ID)
			return wrapProjErr(err, "update worker")
		}
	}
	q := fmt.Sprintf(`INSERT INTO workers (id, category, capabilities, status, current_task, tasks_completed)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5), s.drv.Placeholder(6))
	_, err = s.drv.Exec(ctx, q, w.ID, w.Category, w.Capabilities, w.Status, nullableString(w.CurrentTask), w.TasksCompleted)
	return wrapProjErr(err, "insert worker")
}

// ListWorkers returns all workers, optionally filtered by category (pass
// "" for all).
func (s *Store) ListWorkers(ctx context.Context, category string) ([]Worker, error) {
	q := "SELECT id, category, capabilities, status, current_task, tasks_completed FROM workers"
	var args []any
	if category != "" {
		q += fmt.Sprintf(" WHERE category = %s", s.drv.Placeholder(1))
		args = append(args, category)
	}
	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list workers", err)
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		var w Worker
		var currentTask sql.NullString
		if err := rows.Scan(&w.ID, &w.Category, &w.Capabilities, &w.Status, &currentTask, &w.TasksCompleted); err != nil {
			return nil, cerrors.UpstreamFailure("scan worker", err)
		}
		w.CurrentTask = currentTask.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWorker returns a single worker by id.
func (s *Store) GetWorker(ctx context.Context, workerID string) (Worker, error) {
	workers, err := s.ListWorkers(ctx, "")
	if err != nil {
		return Worker{}, err
	}
	for _, w := range workers {
		if w.ID == workerID {
			return w, nil
		}
	}
	return Worker{}, cerrors.NotFound("worker", workerID)
}

// ProjectSnapshot is the full derived state for one project, assembled from
// the cached projection tables. It is what the Core exposes to callers that
// need "current state" rather than the raw event log.
type ProjectSnapshot struct {
	Project      Project
	Gates        []Gate
	Proofs       []ProofArtifact
	Deliverables []Deliverable
	Tasks        []Task
	Spawns       []AgentSpawn
	Specs        []SpecRegistration
	Assessments  []AssessmentSession
}

// GetProject returns the derived project row.
func (s *Store) GetProject(ctx context.Context, projectID string) (Project, error) {
	q := fmt.Sprintf("SELECT id, name, owner, current_gate, completed, is_aiml, created_at FROM projects WHERE id = %s", s.drv.Placeholder(1))
	var p Project
	var completed, isAIML int
	var createdAt string
	err := s.drv.QueryRow(ctx, q, projectID).Scan(&p.ID, &p.Name, &p.Owner, &p.CurrentGate, &completed, &isAIML, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, cerrors.NotFound("project", projectID)
	}
	if err != nil {
		return Project{}, cerrors.UpstreamFailure("get project", err)
	}
	p.Completed = completed != 0
	p.IsAIML = isAIML != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return p, nil
}

// ListGates returns all gate rows for a project.
func (s *Store) ListGates(ctx context.Context, projectID string) ([]Gate, error) {
	q := fmt.Sprintf(`SELECT project_id, gate_type, status, requires_proof, passing_criteria, description,
		approved_by, approved_at, review_notes, blocking_reason FROM gates WHERE project_id = %s`, s.drv.Placeholder(1))
	rows, err := s.drv.Query(ctx, q, projectID)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list gates", err)
	}
	defer rows.Close()

	var out []Gate
	for rows.Next() {
		var g Gate
		var requiresProof int
		var passingCriteria, description, approvedBy, approvedAt, reviewNotes, blockingReason sql.NullString
		if err := rows.Scan(&g.ProjectID, &g.GateType, &g.Status, &requiresProof, &passingCriteria, &description,
			&approvedBy, &approvedAt, &reviewNotes, &blockingReason); err != nil {
			return nil, cerrors.UpstreamFailure("scan gate", err)
		}
		g.RequiresProof = requiresProof != 0
		g.PassingCriteria = passingCriteria.String
		g.Description = description.String
		g.ApprovedBy = approvedBy.String
		g.ReviewNotes = reviewNotes.String
		g.BlockingReason = blockingReason.String
		if approvedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, approvedAt.String); err == nil {
				g.ApprovedAt = &t
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGate returns a single gate row.
func (s *Store) GetGate(ctx context.Context, projectID, gateType string) (Gate, error) {
	gates, err := s.ListGates(ctx, projectID)
	if err != nil {
		return Gate{}, err
	}
	for _, g := range gates {
		if g.GateType == gateType {
			return g, nil
		}
	}
	return Gate{}, cerrors.NotFound("gate", gateType)
}

// UpsertGateDefinition seeds or overwrites the static config portion of a
// gate slot (requires_proof/passing_criteria/description), independent of
// the transition event flow. Used once at project creation to materialize
// the G1..G9 registry rows.
func (s *Store) UpsertGateDefinition(ctx context.Context, projectID, gateType string, requiresProof bool, passingCriteria, description string) error {
	existing, err := s.ListGates(ctx, projectID)
	if err != nil {
		return err
	}
	for _, g := range existing {
		if g.GateType == gateType {
			q := fmt.Sprintf(`UPDATE gates SET requires_proof = %s, passing_criteria = %s, description = %s
				WHERE project_id = %s AND gate_type = %s`,
				s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5))
			_, err := s.drv.Exec(ctx, q, boolInt(requiresProof), passingCriteria, description, projectID, gateType)
			return wrapProjErr(err, "update gate definition")
		}
	}
	q := fmt.Sprintf(`INSERT INTO gates (project_id, gate_type, status, requires_proof, passing_criteria, description)
		VALUES (%s, %s, 'PENDING', %s, %s, %s)`,
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4), s.drv.Placeholder(5))
	_, err = s.drv.Exec(ctx, q, projectID, gateType, boolInt(requiresProof), passingCriteria, description)
	return wrapProjErr(err, "insert gate definition")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListProofs returns all proof artifacts for a project, optionally filtered
// by gate (pass "" for all gates).
func (s *Store) ListProofs(ctx context.Context, projectID, gateType string) ([]ProofArtifact, error) {
	q := fmt.Sprintf(`SELECT id, project_id, gate_type, proof_type, file_path, content_hash, content_summary, pass_fail, created_by, created_at
		FROM proof_artifacts WHERE project_id = %s`, s.drv.Placeholder(1))
	args := []any{projectID}
	if gateType != "" {
		q += fmt.Sprintf(" AND gate_type = %s", s.drv.Placeholder(2))
		args = append(args, gateType)
	}
	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list proofs", err)
	}
	defer rows.Close()

	var out []ProofArtifact
	for rows.Next() {
		var p ProofArtifact
		var createdAt string
		var summary sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.GateType, &p.ProofType, &p.FilePath, &p.ContentHash,
			&summary, &p.PassFail, &p.CreatedBy, &createdAt); err != nil {
			return nil, cerrors.UpstreamFailure("scan proof", err)
		}
		p.ContentSummary = summary.String
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProof returns a single proof artifact by id.
func (s *Store) GetProof(ctx context.Context, projectID, artifactID string) (ProofArtifact, error) {
	proofs, err := s.ListProofs(ctx, projectID, "")
	if err != nil {
		return ProofArtifact{}, err
	}
	for _, p := range proofs {
		if p.ID == artifactID {
			return p, nil
		}
	}
	return ProofArtifact{}, cerrors.NotFound("proof artifact", artifactID)
}

// ListDeliverables returns all deliverables for a project.
func (s *Store) ListDeliverables(ctx context.Context, projectID string) ([]Deliverable, error) {
	q := fmt.Sprintf(`SELECT id, project_id, gate_id, type, name, status, path, owner, version
		FROM deliverables WHERE project_id = %s`, s.drv.Placeholder(1))
	rows, err := s.drv.Query(ctx, q, projectID)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list deliverables", err)
	}
	defer rows.Close()

	var out []Deliverable
	for rows.Next() {
		var d Deliverable
		var gateID, path, owner, version sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &gateID, &d.Type, &d.Name, &d.Status, &path, &owner, &version); err != nil {
			return nil, cerrors.UpstreamFailure("scan deliverable", err)
		}
		d.GateID, d.Path, d.Owner, d.Version = gateID.String, path.String, owner.String, version.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListTasks returns tasks for a project, optionally filtered by status
// (pass "" for all).
func (s *Store) ListTasks(ctx context.Context, projectID, status string) ([]Task, error) {
	q := fmt.Sprintf(`SELECT id, project_id, type, priority, worker_category, description, status, blockers,
		depends_on, gate_dependency, spec_refs, assigned_worker, attempts, max_attempts, created_at, started_at, completed_at
		FROM tasks WHERE project_id = %s`, s.drv.Placeholder(1))
	args := []any{projectID}
	if status != "" {
		q += fmt.Sprintf(" AND status = %s", s.drv.Placeholder(2))
		args = append(args, status)
	}
	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var description, gateDependency, assignedWorker, startedAt, completedAt sql.NullString
		var blockersJSON, dependsOnJSON, specRefsJSON, createdAt string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Type, &t.Priority, &t.WorkerCategory, &description, &t.Status,
			&blockersJSON, &dependsOnJSON, &gateDependency, &specRefsJSON, &assignedWorker, &t.Attempts, &t.MaxAttempts,
			&createdAt, &startedAt, &completedAt); err != nil {
			return nil, cerrors.UpstreamFailure("scan task", err)
		}
		t.Description = description.String
		t.GateDependency = gateDependency.String
		t.AssignedWorker = assignedWorker.String
		_ = json.Unmarshal([]byte(blockersJSON), &t.Blockers)
		_ = json.Unmarshal([]byte(dependsOnJSON), &t.DependsOn)
		_ = json.Unmarshal([]byte(specRefsJSON), &t.SpecRefs)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if startedAt.Valid {
			if tm, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
				t.StartedAt = &tm
			}
		}
		if completedAt.Valid {
			if tm, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				t.CompletedAt = &tm
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask returns a single task by id.
func (s *Store) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	tasks, err := s.ListTasks(ctx, projectID, "")
	if err != nil {
		return Task{}, err
	}
	for _, t := range tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return Task{}, cerrors.NotFound("task", taskID)
}

// SetTaskBlockersAndStatus overwrites the cached blocker-token list and
// status for a task. This is a scheduling concern, not an event-sourced
// transition, so it bypasses AppendEvent and writes directly; the blocker
// set is always recomputable from current gate/task state and never
// itself carries history.
func (s *Store) SetTaskBlockersAndStatus(ctx context.Context, projectID, taskID string, blockers []string, status string) error {
	b, err := json.Marshal(blockers)
	if err != nil {
		return cerrors.InvalidInput("marshal blockers", "ensure blockers are strings")
	}
	q := fmt.Sprintf("UPDATE tasks SET blockers = %s, status = %s WHERE id = %s AND project_id = %s",
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3), s.drv.Placeholder(4))
	_, err = s.drv.Exec(ctx, q, string(b), status, taskID, projectID)
	return wrapProjErr(err, "set task blockers and status")
}

// ListSpawns returns agent spawn records for a project, optionally filtered
// by gate (pass "" for all).
func (s *Store) ListSpawns(ctx context.Context, projectID, gate string) ([]AgentSpawn, error) {
	q := fmt.Sprintf(`SELECT id, project_id, agent_name, gate, task_description, status, spawned_at, completed_at,
		result_summary, proof_artifact_ids, input_tokens, output_tokens FROM agent_spawns WHERE project_id = %s`, s.drv.Placeholder(1))
	args := []any{projectID}
	if gate != "" {
		q += fmt.Sprintf(" AND gate = %s", s.drv.Placeholder(2))
		args = append(args, gate)
	}
	rows, err := s.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list spawns", err)
	}
	defer rows.Close()

	var out []AgentSpawn
	for rows.Next() {
		var a AgentSpawn
		var taskDescription, completedAt, resultSummary sql.NullString
		var spawnedAt, idsJSON string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AgentName, &a.Gate, &taskDescription, &a.Status, &spawnedAt,
			&completedAt, &resultSummary, &idsJSON, &a.InputTokens, &a.OutputTokens); err != nil {
			return nil, cerrors.UpstreamFailure("scan spawn", err)
		}
		a.TaskDescription = taskDescription.String
		a.ResultSummary = resultSummary.String
		a.SpawnedAt, _ = time.Parse(time.RFC3339Nano, spawnedAt)
		_ = json.Unmarshal([]byte(idsJSON), &a.ProofArtifactIDs)
		if completedAt.Valid {
			if tm, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				a.CompletedAt = &tm
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetSpawn returns a single agent spawn record by id.
func (s *Store) GetSpawn(ctx context.Context, projectID, spawnID string) (AgentSpawn, error) {
	spawns, err := s.ListSpawns(ctx, projectID, "")
	if err != nil {
		return AgentSpawn{}, err
	}
	for _, a := range spawns {
		if a.ID == spawnID {
			return a, nil
		}
	}
	return AgentSpawn{}, cerrors.NotFound("agent spawn", spawnID)
}

// ListSpecRegistrations returns all spec registrations for a project.
func (s *Store) ListSpecRegistrations(ctx context.Context, projectID string) ([]SpecRegistration, error) {
	q := fmt.Sprintf(`SELECT project_id, spec_type, path, checksum, version, locked, locked_by, locked_at
		FROM spec_registrations WHERE project_id = %s`, s.drv.Placeholder(1))
	rows, err := s.drv.Query(ctx, q, projectID)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list spec registrations", err)
	}
	defer rows.Close()

	var out []SpecRegistration
	for rows.Next() {
		var r SpecRegistration
		var locked int
		var lockedBy, lockedAt sql.NullString
		if err := rows.Scan(&r.ProjectID, &r.SpecType, &r.Path, &r.Checksum, &r.Version, &locked, &lockedBy, &lockedAt); err != nil {
			return nil, cerrors.UpstreamFailure("scan spec registration", err)
		}
		r.Locked = locked != 0
		r.LockedBy = lockedBy.String
		if lockedAt.Valid {
			if tm, err := time.Parse(time.RFC3339Nano, lockedAt.String); err == nil {
				r.LockedAt = &tm
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSpecRegistration returns a single spec registration.
func (s *Store) GetSpecRegistration(ctx context.Context, projectID, specType string) (SpecRegistration, error) {
	regs, err := s.ListSpecRegistrations(ctx, projectID)
	if err != nil {
		return SpecRegistration{}, err
	}
	for _, r := range regs {
		if r.SpecType == specType {
			return r, nil
		}
	}
	return SpecRegistration{}, cerrors.NotFound("spec registration", specType)
}

// ListAssessmentSessions returns assessment sessions for a project.
func (s *Store) ListAssessmentSessions(ctx context.Context, projectID string) ([]AssessmentSession, error) {
	q := fmt.Sprintf(`SELECT id, project_id, started_at, expires_at, aggregated_score, recommendation, status
		FROM assessment_sessions WHERE project_id = %s`, s.drv.Placeholder(1))
	rows, err := s.drv.Query(ctx, q, projectID)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list assessment sessions", err)
	}
	defer rows.Close()

	var out []AssessmentSession
	for rows.Next() {
		var a AssessmentSession
		var startedAt, expiresAt string
		var score sql.NullFloat64
		var recommendation sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &startedAt, &expiresAt, &score, &recommendation, &a.Status); err != nil {
			return nil, cerrors.UpstreamFailure("scan assessment session", err)
		}
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		a.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
		if score.Valid {
			v := score.Float64
			a.AggregatedScore = &v
		}
		a.Recommendation = recommendation.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssessmentSession returns a single assessment session by id.
func (s *Store) GetAssessmentSession(ctx context.Context, projectID, sessionID string) (AssessmentSession, error) {
	sessions, err := s.ListAssessmentSessions(ctx, projectID)
	if err != nil {
		return AssessmentSession{}, err
	}
	for _, a := range sessions {
		if a.ID == sessionID {
			return a, nil
		}
	}
	return AssessmentSession{}, cerrors.NotFound("assessment session", sessionID)
}

// ListAssessmentSlots returns every evaluator agent's slot for a session.
func (s *Store) ListAssessmentSlots(ctx context.Context, sessionID string) ([]AssessmentSlot, error) {
	q := fmt.Sprintf(`SELECT session_id, agent, status, section, score, findings, metrics
		FROM assessment_slots WHERE session_id = %s`, s.drv.Placeholder(1))
	rows, err := s.drv.Query(ctx, q, sessionID)
	if err != nil {
		return nil, cerrors.UpstreamFailure("list assessment slots", err)
	}
	defer rows.Close()

	var out []AssessmentSlot
	for rows.Next() {
		var slot AssessmentSlot
		var section sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&slot.SessionID, &slot.Agent, &slot.Status, &section, &score, &slot.Findings, &slot.Metrics); err != nil {
			return nil, cerrors.UpstreamFailure("scan assessment slot", err)
		}
		slot.Section = section.String
		if score.Valid {
			v := score.Float64
			slot.Score = &v
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// GetAssessmentSlot returns a single evaluator agent's slot.
func (s *Store) GetAssessmentSlot(ctx context.Context, sessionID, agent string) (AssessmentSlot, error) {
	slots, err := s.ListAssessmentSlots(ctx, sessionID)
	if err != nil {
		return AssessmentSlot{}, err
	}
	for _, slot := range slots {
		if slot.Agent == agent {
			return slot, nil
		}
	}
	return AssessmentSlot{}, cerrors.NotFound("assessment slot", sessionID+"/"+agent)
}

// GetState assembles the full ProjectSnapshot from the cached projection
// tables (fast path — read-mostly callers should use this, not Replay).
func (s *Store) GetState(ctx context.Context, projectID string) (ProjectSnapshot, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	gates, err := s.ListGates(ctx, projectID)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	proofs, err := s.ListProofs(ctx, projectID, "")
	if err != nil {
		return ProjectSnapshot{}, err
	}
	deliverables, err := s.ListDeliverables(ctx, projectID)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	tasks, err := s.ListTasks(ctx, projectID, "")
	if err != nil {
		return ProjectSnapshot{}, err
	}
	spawns, err := s.ListSpawns(ctx, projectID, "")
	if err != nil {
		return ProjectSnapshot{}, err
	}
	specs, err := s.ListSpecRegistrations(ctx, projectID)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	assessments, err := s.ListAssessmentSessions(ctx, projectID)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	return ProjectSnapshot{
		Project: project, Gates: gates, Proofs: proofs, Deliverables: deliverables,
		Tasks: tasks, Spawns: spawns, Specs: specs, Assessments: assessments,
	}, nil
}

// Replay rebuilds the projection tables for projectID from the event log
// alone, discarding and reapplying every event in seq order. It exists to
// exercise and prove the "snapshot is a pure function of the event log"
// property: Replay(id) must produce the same ProjectSnapshot as GetState(id)
// for a log that was only ever appended to, never hand-edited.
func (s *Store) Replay(ctx context.Context, projectID string) (ProjectSnapshot, error) {
	if err := s.wipeProjection(ctx, projectID); err != nil {
		return ProjectSnapshot{}, err
	}
	events, err := s.GetEventLog(ctx, projectID, EventLogFilter{})
	if err != nil {
		return ProjectSnapshot{}, err
	}
	for _, ev := range events {
		tx, err := s.drv.BeginTx(ctx, nil)
		if err != nil {
			return ProjectSnapshot{}, cerrors.UpstreamFailure("begin replay transaction", err)
		}
		if err := s.applyEvent(ctx, tx, ev); err != nil {
			_ = tx.Rollback()
			return ProjectSnapshot{}, err
		}
		if err := tx.Commit(); err != nil {
			return ProjectSnapshot{}, cerrors.UpstreamFailure("commit replay step", err)
		}
	}
	return s.GetState(ctx, projectID)
}

func (s *Store) wipeProjection(ctx context.Context, projectID string) error {
	slotQ := fmt.Sprintf(`DELETE FROM assessment_slots WHERE session_id IN
		(SELECT id FROM assessment_sessions WHERE project_id = %s)`, s.drv.Placeholder(1))
	if _, err := s.drv.Exec(ctx, slotQ, projectID); err != nil {
		return cerrors.UpstreamFailure("wipe projection table assessment_slots", err)
	}

	tables := []string{"projects", "gates", "proof_artifacts", "deliverables", "tasks", "agent_spawns",
		"spec_registrations", "assessment_sessions"}
	for _, table := range tables {
		col := "project_id"
		if table == "projects" {
			col = "id"
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, col, s.drv.Placeholder(1))
		if _, err := s.drv.Exec(ctx, q, projectID); err != nil {
			return cerrors.UpstreamFailure("wipe projection table "+table, err)
		}
	}
	return nil
}

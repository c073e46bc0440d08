package truth

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of state change recorded in the event log.
// The list covers the Core spec's minimum event-type catalog and adds
// gate_skipped plus the deliverable, document and assessment events.
type EventType string

const (
	EventProjectCreated        EventType = "project_created"
	EventGateApproved          EventType = "gate_approved"
	EventGateRejected          EventType = "gate_rejected"
	EventGateBlocked           EventType = "gate_blocked"
	EventGateSkipped           EventType = "gate_skipped"
	EventSpecRegistered        EventType = "spec_registered"
	EventSpecLocked            EventType = "spec_locked"
	EventTaskCreated           EventType = "task_created"
	EventTaskStarted           EventType = "task_started"
	EventTaskCompleted         EventType = "task_completed"
	EventTaskFailed            EventType = "task_failed"
	EventTaskRetried           EventType = "task_retried"
	EventWorkerRegistered      EventType = "worker_registered"
	EventAgentSpawned          EventType = "agent_spawned"
	EventAgentCompleted        EventType = "agent_completed"
	EventProofSubmitted        EventType = "proof_submitted"
	EventProofVerified         EventType = "proof_verified"
	EventHumanInput            EventType = "human_input"
	EventDecisionMade          EventType = "decision_made"
	EventRiskAdded             EventType = "risk_added"
	EventRiskResolved          EventType = "risk_resolved"
	EventValidationTriggered   EventType = "validation_triggered"
	EventValidationCompleted   EventType = "validation_completed"
	EventSelfHealing           EventType = "self_healing"
	EventDeliverableRegistered EventType = "deliverable_registered"
	EventDeliverableChanged    EventType = "deliverable_status_changed"
	EventDocumentRevised       EventType = "document_revised"
	EventAssessmentStarted     EventType = "assessment_started"
	EventAssessmentCompleted   EventType = "assessment_completed"
	EventAssessmentSlotUpdated EventType = "assessment_slot_updated"
)

// Event is the append-only unit of truth. Common fields are typed; Payload
// is a versioned record keyed by Type, kept as raw JSON so new event shapes
// never require a schema migration (see SPEC_FULL.md §5.1 on the
// "dynamically typed payloads" redesign note).
type Event struct {
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	ProjectID string          `json:"project_id"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent constructs an Event with the payload marshaled from data.
// Seq is assigned by the Store on append and is zero until then.
func NewEvent(eventType EventType, projectID, actor string, data any) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{
		Type:      eventType,
		ProjectID: projectID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// DecodePayload unmarshals the event's payload into dst.
func (e Event) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// --- Typed payload shapes for the event types most consulted by snapshot rebuild ---

// GateApprovedPayload is the payload for EventGateApproved.
type GateApprovedPayload struct {
	ApprovedBy string `json:"approved_by"`
	Notes      string `json:"notes,omitempty"`
	Forced     bool   `json:"forced,omitempty"`
}

// GateRejectedPayload is the payload for EventGateRejected.
type GateRejectedPayload struct {
	RejectedBy      string `json:"rejected_by"`
	BlockingReason  string `json:"blocking_reason"`
}

// GateBlockedPayload is the payload for EventGateBlocked.
type GateBlockedPayload struct {
	BlockingReason string `json:"blocking_reason"`
}

// SpecRegisteredPayload is the payload for EventSpecRegistered.
type SpecRegisteredPayload struct {
	SpecType string `json:"spec_type"`
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Version  int    `json:"version"`
}

// SpecLockedPayload is the payload for EventSpecLocked.
type SpecLockedPayload struct {
	SpecType string `json:"spec_type"`
	LockedBy string `json:"locked_by"`
	Gate     string `json:"gate"`
}

// TaskEventPayload is the payload for task_created/started/completed/failed/retried.
type TaskEventPayload struct {
	TaskID         string   `json:"task_id"`
	Type           string   `json:"type"`
	Priority       string   `json:"priority"`
	Status         string   `json:"status,omitempty"`
	Description    string   `json:"description,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`
	WorkerCategory string   `json:"worker_category,omitempty"`
	AssignedWorker string   `json:"assigned_worker,omitempty"`
	Outcome        string   `json:"outcome,omitempty"`
	Error          string   `json:"error,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	GateDependency string   `json:"gate_dependency,omitempty"`
	SpecRefs       []string `json:"spec_refs,omitempty"`
}

// AgentSpawnPayload is the payload for agent_spawned/agent_completed.
type AgentSpawnPayload struct {
	SpawnID          string   `json:"spawn_id"`
	AgentName        string   `json:"agent_name"`
	Gate             string   `json:"gate"`
	TaskDescription  string   `json:"task_description,omitempty"`
	Status           string   `json:"status"`
	ResultSummary    string   `json:"result_summary,omitempty"`
	ProofArtifactIDs []string `json:"proof_artifact_ids,omitempty"`
	InputTokens      int      `json:"input_tokens,omitempty"`
	OutputTokens     int      `json:"output_tokens,omitempty"`
}

// ProofEventPayload is the payload for proof_submitted/proof_verified.
type ProofEventPayload struct {
	ArtifactID  string `json:"artifact_id"`
	Gate        string `json:"gate"`
	ProofType   string `json:"proof_type"`
	PassFail    string `json:"pass_fail,omitempty"`
	Valid       *bool  `json:"valid,omitempty"`
	StoredHash  string `json:"stored_hash,omitempty"`
	CurrentHash string `json:"current_hash,omitempty"`
}

// DeliverablePayload is the payload for deliverable_registered/status_changed.
type DeliverablePayload struct {
	DeliverableID string `json:"deliverable_id"`
	GateID        string `json:"gate_id,omitempty"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	Status        string `json:"status"`
}

// AssessmentPayload is the payload for assessment_started/completed.
type AssessmentPayload struct {
	SessionID       string   `json:"session_id"`
	Agents          []string `json:"agents,omitempty"`
	AggregatedScore float64  `json:"aggregated_score,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`
	Status          string   `json:"status,omitempty"`
}

// AssessmentSlotPayload is the payload for assessment_slot_updated: one
// evaluator agent's status within a session.
type AssessmentSlotPayload struct {
	SessionID string   `json:"session_id"`
	Agent     string   `json:"agent"`
	Status    string   `json:"status"`
	Section   string   `json:"section,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Findings  string   `json:"findings,omitempty"`
	Metrics   string   `json:"metrics,omitempty"`
}

// DocumentRevisedPayload is the payload for document_revised.
type DocumentRevisedPayload struct {
	Gate              string `json:"gate"`
	DocumentType      string `json:"document_type"`
	Version           int    `json:"version"`
	TruncatedFeedback string `json:"truncated_feedback"`
}

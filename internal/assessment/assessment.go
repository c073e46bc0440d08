// Package assessment implements the Parallel Assessment Aggregator: a
// fan-out of evaluator agents scoring an existing codebase, collected into
// a single weighted recommendation with tolerance for partial results.
package assessment

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// SectionWeights are the fixed per-section weights used by Aggregate.
var SectionWeights = map[string]float64{
	"architecture":  1.2,
	"security":      1.5,
	"quality":       1.0,
	"devops":        0.8,
	"frontend_code": 0.5,
	"backend_code":  0.5,
}

// SlotStatus is a single evaluator agent's lifecycle state within a session.
type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotStarted   SlotStatus = "started"
	SlotSubmitted SlotStatus = "submitted"
	SlotTimedOut  SlotStatus = "timed_out"
	SlotFailed    SlotStatus = "failed"
)

// Findings is the structured result an evaluator agent submits.
type Findings struct {
	Strengths       []string `json:"strengths,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Completion is the result of CheckCompletion.
type Completion struct {
	IsComplete bool
	Completed  int
	Failed     int
	TimedOut   int
	Total      int
}

// SectionResult is one section's contribution to the aggregate score.
type SectionResult struct {
	Score  float64
	Weight float64
}

// Aggregate is the result of Aggregate.
type Aggregate struct {
	ScoresBySection  map[string]SectionResult
	AggregatedScore  float64
	Recommendation   string
	CombinedFindings Findings
	Session          truth.AssessmentSession
}

// Aggregator coordinates evaluator-agent fan-out against the Truth Store.
type Aggregator struct {
	store *truth.Store
	group singleflight.Group
}

// New constructs an Aggregator backed by store.
func New(store *truth.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Start initializes a new assessment session with one pending slot per
// agent and a 30-minute expiry.
func (a *Aggregator) Start(ctx context.Context, projectID string, agents []string) (string, error) {
	sessionID := uuid.New().String()
	ev, err := truth.NewEvent(truth.EventAssessmentStarted, projectID, "system", truth.AssessmentPayload{
		SessionID: sessionID, Agents: agents, Status: "active",
	})
	if err != nil {
		return "", cerrors.InvalidInput("build assessment_started event", "check session fields")
	}
	if _, err := a.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return sessionID, nil
}

// MarkStarted transitions an evaluator agent's slot to started.
func (a *Aggregator) MarkStarted(ctx context.Context, projectID, sessionID, agent string) error {
	return a.updateSlot(ctx, projectID, sessionID, agent, string(SlotStarted), "", nil, "", "")
}

// MarkFailed transitions an evaluator agent's slot to failed or
// timed_out, recording message in Findings for visibility.
func (a *Aggregator) MarkFailed(ctx context.Context, projectID, sessionID, agent string, reason SlotStatus, message string) error {
	if reason != SlotFailed && reason != SlotTimedOut {
		return cerrors.InvalidInput("mark assessment slot failed", "reason must be failed or timed_out")
	}
	findings := ""
	if message != "" {
		findings = `{"message":"` + message + `"}`
	}
	return a.updateSlot(ctx, projectID, sessionID, agent, string(reason), "", nil, findings, "")
}

// SubmitResult records an evaluator agent's score, findings, and metrics,
// moving its slot to submitted.
func (a *Aggregator) SubmitResult(ctx context.Context, projectID, sessionID, agent, section string, score float64, findingsJSON, metricsJSON string) error {
	if score < 0 || score > 10 {
		return cerrors.InvalidInput("submit assessment result", "score must be between 0 and 10")
	}
	return a.updateSlot(ctx, projectID, sessionID, agent, string(SlotSubmitted), section, &score, findingsJSON, metricsJSON)
}

func (a *Aggregator) updateSlot(ctx context.Context, projectID, sessionID, agent, status, section string, score *float64, findingsJSON, metricsJSON string) error {
	ev, err := truth.NewEvent(truth.EventAssessmentSlotUpdated, projectID, agent, truth.AssessmentSlotPayload{
		SessionID: sessionID, Agent: agent, Status: status, Section: section,
		Score: score, Findings: findingsJSON, Metrics: metricsJSON,
	})
	if err != nil {
		return cerrors.InvalidInput("build assessment_slot_updated event", "check slot fields")
	}
	_, err = a.store.AppendEvent(ctx, ev)
	return err
}

// CheckCompletion reports whether every agent slot in a session has
// reached a terminal state (submitted, timed_out, or failed).
func (a *Aggregator) CheckCompletion(ctx context.Context, sessionID string) (Completion, error) {
	slots, err := a.store.ListAssessmentSlots(ctx, sessionID)
	if err != nil {
		return Completion{}, err
	}
	c := Completion{Total: len(slots)}
	for _, slot := range slots {
		switch slot.Status {
		case string(SlotSubmitted):
			c.Completed++
		case string(SlotFailed):
			c.Failed++
		case string(SlotTimedOut):
			c.TimedOut++
		}
	}
	c.IsComplete = len(slots) > 0 && c.Completed+c.Failed+c.TimedOut == len(slots)
	return c, nil
}

// recommendationFor bands an aggregated 0-10 score into a recommendation.
func recommendationFor(score float64) string {
	switch {
	case score <= 3:
		return "REWRITE"
	case score <= 5:
		return "REFACTOR"
	case score <= 7.5:
		return "ENHANCE"
	default:
		return "MAINTAIN"
	}
}

// Aggregate computes the weighted score across all submitted sections and
// appends EventAssessmentCompleted. Sections whose agent never reached
// submitted are excluded from the weighted sum rather than failing the
// whole session; the session is marked "partial" whenever any agent ended
// in a non-submitted terminal state. Concurrent callers for the same
// session are coalesced via singleflight.
func (a *Aggregator) Aggregate(ctx context.Context, projectID, sessionID string) (Aggregate, error) {
	result, err, _ := a.group.Do(sessionID, func() (any, error) {
		return a.aggregate(ctx, projectID, sessionID)
	})
	if err != nil {
		return Aggregate{}, err
	}
	return result.(Aggregate), nil
}

func (a *Aggregator) aggregate(ctx context.Context, projectID, sessionID string) (Aggregate, error) {
	session, err := a.store.GetAssessmentSession(ctx, projectID, sessionID)
	if err != nil {
		return Aggregate{}, err
	}
	slots, err := a.store.ListAssessmentSlots(ctx, sessionID)
	if err != nil {
		return Aggregate{}, err
	}

	scores := make(map[string]SectionResult)
	var combined Findings
	var weightedSum, weightTotal float64
	partial := false

	for _, slot := range slots {
		if slot.Status != string(SlotSubmitted) {
			if slot.Status == string(SlotFailed) || slot.Status == string(SlotTimedOut) {
				partial = true
			}
			continue
		}
		section := slot.Section
		if section == "" {
			section = slot.Agent
		}
		weight, ok := SectionWeights[section]
		if !ok {
			weight = 1.0
		}
		score := 0.0
		if slot.Score != nil {
			score = *slot.Score
		}
		scores[section] = SectionResult{Score: score, Weight: weight}
		weightedSum += score * weight
		weightTotal += weight

		if slot.Findings != "" {
			var f Findings
			if err := json.Unmarshal([]byte(slot.Findings), &f); err == nil {
				combined.Strengths = append(combined.Strengths, f.Strengths...)
				combined.Weaknesses = append(combined.Weaknesses, f.Weaknesses...)
				combined.Recommendations = append(combined.Recommendations, f.Recommendations...)
			}
		}
	}

	aggregated := 0.0
	if weightTotal > 0 {
		aggregated = weightedSum / weightTotal
	}
	recommendation := recommendationFor(aggregated)

	status := "completed"
	if partial {
		status = "partial"
	}
	ev, err := truth.NewEvent(truth.EventAssessmentCompleted, projectID, "system", truth.AssessmentPayload{
		SessionID: sessionID, AggregatedScore: aggregated, Recommendation: recommendation, Status: status,
	})
	if err != nil {
		return Aggregate{}, cerrors.InvalidInput("build assessment_completed event", "check aggregate fields")
	}
	if _, err := a.store.AppendEvent(ctx, ev); err != nil {
		return Aggregate{}, err
	}

	session.AggregatedScore = &aggregated
	session.Recommendation = recommendation
	session.Status = status
	return Aggregate{
		ScoresBySection:  scores,
		AggregatedScore:  aggregated,
		Recommendation:   recommendation,
		CombinedFindings: combined,
		Session:          session,
	}, nil
}

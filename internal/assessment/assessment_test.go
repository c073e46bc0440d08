package assessment

import (
	"context"
	"testing"

	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
)

func newTestAggregator(t *testing.T) (*Aggregator, *truth.Store) {
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
	return New(store), store
}

func TestStartSeedsOnePendingSlotPerAgent(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	sessionID, err := a.Start(ctx, "p1", []string{"architecture", "security"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	slots, err := store.ListAssessmentSlots(ctx, sessionID)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	for _, slot := range slots {
		if slot.Status != string(SlotPending) {
			t.Errorf("expected pending slot, got %q", slot.Status)
		}
	}
}

func TestCheckCompletionTalliesTerminalStates(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	sessionID, err := a.Start(ctx, "p1", []string{"architecture", "security", "quality"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := a.SubmitResult(ctx, "p1", sessionID, "architecture", "architecture", 8.0, "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := a.MarkFailed(ctx, "p1", sessionID, "security", SlotFailed, "crashed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	completion, err := a.CheckCompletion(ctx, sessionID)
	if err != nil {
		t.Fatalf("check completion: %v", err)
	}
	if completion.IsComplete {
		t.Fatal("expected incomplete session with one pending agent")
	}
	if completion.Completed != 1 || completion.Failed != 1 || completion.Total != 3 {
		t.Errorf("unexpected tally: %+v", completion)
	}

	if err := a.SubmitResult(ctx, "p1", sessionID, "quality", "quality", 5.0, "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	completion, err = a.CheckCompletion(ctx, sessionID)
	if err != nil {
		t.Fatalf("check completion: %v", err)
	}
	if !completion.IsComplete {
		t.Fatal("expected session complete once all agents reach a terminal state")
	}
}

func TestAggregateWeightsSectionsAndBandsRecommendation(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	sessionID, err := a.Start(ctx, "p1", []string{"architecture", "security", "quality"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.SubmitResult(ctx, "p1", sessionID, "architecture", "architecture", 8.0,
		`{"strengths":["clean layering"]}`, ""); err != nil {
		t.Fatalf("submit architecture: %v", err)
	}
	if err := a.SubmitResult(ctx, "p1", sessionID, "security", "security", 6.0,
		`{"weaknesses":["no rate limiting"]}`, ""); err != nil {
		t.Fatalf("submit security: %v", err)
	}
	if err := a.SubmitResult(ctx, "p1", sessionID, "quality", "quality", 9.0, "", ""); err != nil {
		t.Fatalf("submit quality: %v", err)
	}

	result, err := a.Aggregate(ctx, "p1", sessionID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	wantScore := (8.0*1.2 + 6.0*1.5 + 9.0*1.0) / (1.2 + 1.5 + 1.0)
	if diff := result.AggregatedScore - wantScore; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("aggregated score = %v, want %v", result.AggregatedScore, wantScore)
	}
	if result.Recommendation != "ENHANCE" {
		t.Errorf("recommendation = %q, want ENHANCE", result.Recommendation)
	}
	if len(result.CombinedFindings.Strengths) != 1 || len(result.CombinedFindings.Weaknesses) != 1 {
		t.Errorf("expected findings combined from both sections, got %+v", result.CombinedFindings)
	}
	if result.Session.Status != "completed" {
		t.Errorf("expected completed session, got %q", result.Session.Status)
	}
}

func TestAggregateExcludesNonSubmittedAgentsAndMarksPartial(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	sessionID, err := a.Start(ctx, "p1", []string{"architecture", "security"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.SubmitResult(ctx, "p1", sessionID, "architecture", "architecture", 4.0, "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := a.MarkFailed(ctx, "p1", sessionID, "security", SlotTimedOut, "no response"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	result, err := a.Aggregate(ctx, "p1", sessionID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.AggregatedScore != 4.0 {
		t.Errorf("expected score from the single submitted section, got %v", result.AggregatedScore)
	}
	if result.Session.Status != "partial" {
		t.Errorf("expected partial session status, got %q", result.Session.Status)
	}
	if _, ok := result.ScoresBySection["security"]; ok {
		t.Error("expected timed-out section excluded from scores")
	}
}

func TestSubmitResultRejectsOutOfRangeScore(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	sessionID, err := a.Start(ctx, "p1", []string{"architecture"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := a.SubmitResult(ctx, "p1", sessionID, "architecture", "architecture", 11.0, "", ""); err == nil {
		t.Fatal("expected error for out-of-range score")
	}
}

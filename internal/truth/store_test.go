package truth

import (
	"context"
	"testing"

	"github.com/relaygate/castellan/internal/truth/driver"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendEventAssignsMonotonicSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	seq1, err := s.AppendEvent(ctx, ev1)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if seq1 != 1 {
		t.Errorf("expected seq 1, got %d", seq1)
	}

	ev2, _ := NewEvent(EventHumanInput, "proj-1", "owner", map[string]string{"note": "hi"})
	seq2, err := s.AppendEvent(ctx, ev2)
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if seq2 != 2 {
		t.Errorf("expected seq 2, got %d", seq2)
	}

	// A different project starts its own sequence at 1.
	ev3, _ := NewEvent(EventProjectCreated, "proj-2", "owner", map[string]string{"name": "Other", "owner": "owner"})
	seq3, err := s.AppendEvent(ctx, ev3)
	if err != nil {
		t.Fatalf("append 3: %v", err)
	}
	if seq3 != 1 {
		t.Errorf("expected seq 1 for second project, got %d", seq3)
	}
}

func TestGetEventLogOrderedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := s.AppendEvent(ctx, ev1); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev2, _ := NewEvent(EventTaskCreated, "proj-1", "owner", TaskEventPayload{TaskID: "t1", Type: "impl", Priority: "normal", WorkerCategory: "backend"})
	if _, err := s.AppendEvent(ctx, ev2); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev3, _ := NewEvent(EventTaskCompleted, "proj-1", "owner", TaskEventPayload{TaskID: "t1"})
	if _, err := s.AppendEvent(ctx, ev3); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := s.GetEventLog(ctx, "proj-1", EventLogFilter{})
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != int64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
	}

	filtered, err := s.GetEventLog(ctx, "proj-1", EventLogFilter{Types: []EventType{EventTaskCreated, EventTaskCompleted}})
	if err != nil {
		t.Fatalf("filtered get log: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(filtered))
	}
}

func TestGetEventLogStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "alice", map[string]string{"name": "Demo", "owner": "alice"})
	_, _ = s.AppendEvent(ctx, ev1)
	ev2, _ := NewEvent(EventHumanInput, "proj-1", "bob", map[string]string{"note": "hi"})
	_, _ = s.AppendEvent(ctx, ev2)
	ev3, _ := NewEvent(EventHumanInput, "proj-1", "bob", map[string]string{"note": "hi again"})
	_, _ = s.AppendEvent(ctx, ev3)

	stats, err := s.GetEventLogStats(ctx, "proj-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.ByType[EventHumanInput] != 2 {
		t.Errorf("expected 2 human_input events, got %d", stats.ByType[EventHumanInput])
	}
	if stats.ByActor["bob"] != 2 {
		t.Errorf("expected 2 events by bob, got %d", stats.ByActor["bob"])
	}
}

func TestProjectionTracksTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := s.AppendEvent(ctx, ev1); err != nil {
		t.Fatalf("append: %v", err)
	}
	created, _ := NewEvent(EventTaskCreated, "proj-1", "owner", TaskEventPayload{
		TaskID: "t1", Type: "impl", Priority: "normal", WorkerCategory: "backend",
	})
	if _, err := s.AppendEvent(ctx, created); err != nil {
		t.Fatalf("append created: %v", err)
	}
	started, _ := NewEvent(EventTaskStarted, "proj-1", "worker-1", TaskEventPayload{TaskID: "t1", AssignedWorker: "worker-1"})
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("append started: %v", err)
	}
	completed, _ := NewEvent(EventTaskCompleted, "proj-1", "worker-1", TaskEventPayload{TaskID: "t1"})
	if _, err := s.AppendEvent(ctx, completed); err != nil {
		t.Fatalf("append completed: %v", err)
	}

	task, err := s.GetTask(ctx, "proj-1", "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %s", task.Status)
	}
	if task.AssignedWorker != "worker-1" {
		t.Errorf("expected worker-1 assigned, got %s", task.AssignedWorker)
	}
}

func TestReplayReproducesSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := s.AppendEvent(ctx, ev1); err != nil {
		t.Fatalf("append: %v", err)
	}
	created, _ := NewEvent(EventTaskCreated, "proj-1", "owner", TaskEventPayload{
		TaskID: "t1", Type: "impl", Priority: "normal", WorkerCategory: "backend",
	})
	if _, err := s.AppendEvent(ctx, created); err != nil {
		t.Fatalf("append created: %v", err)
	}
	completed, _ := NewEvent(EventTaskCompleted, "proj-1", "owner", TaskEventPayload{TaskID: "t1"})
	if _, err := s.AppendEvent(ctx, completed); err != nil {
		t.Fatalf("append completed: %v", err)
	}

	before, err := s.GetState(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}

	after, err := s.Replay(ctx, "proj-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if before.Project.Name != after.Project.Name || before.Project.Owner != after.Project.Owner {
		t.Errorf("project mismatch after replay: %+v vs %+v", before.Project, after.Project)
	}
	if len(before.Tasks) != len(after.Tasks) {
		t.Fatalf("expected %d tasks after replay, got %d", len(before.Tasks), len(after.Tasks))
	}
	if after.Tasks[0].Status != "COMPLETED" {
		t.Errorf("expected replayed task COMPLETED, got %s", after.Tasks[0].Status)
	}

	// Replay is idempotent: running it twice yields the same snapshot.
	again, err := s.Replay(ctx, "proj-1")
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if again.Tasks[0].Status != after.Tasks[0].Status {
		t.Errorf("replay not idempotent: %s vs %s", again.Tasks[0].Status, after.Tasks[0].Status)
	}
}

func TestGateDefinitionAndTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewEvent(EventProjectCreated, "proj-1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := s.AppendEvent(ctx, ev1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpsertGateDefinition(ctx, "proj-1", "G1", false, "", "initial scoping"); err != nil {
		t.Fatalf("seed gate: %v", err)
	}

	approved, _ := NewEvent(EventGateApproved, "proj-1", "owner", struct {
		Gate string `json:"gate"`
		GateApprovedPayload
	}{Gate: "G1", GateApprovedPayload: GateApprovedPayload{ApprovedBy: "owner"}})
	if _, err := s.AppendEvent(ctx, approved); err != nil {
		t.Fatalf("append approved: %v", err)
	}

	g, err := s.GetGate(ctx, "proj-1", "G1")
	if err != nil {
		t.Fatalf("get gate: %v", err)
	}
	if g.Status != "APPROVED" {
		t.Errorf("expected APPROVED, got %s", g.Status)
	}

	proj, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if proj.CurrentGate != "G1" {
		t.Errorf("expected current gate G1, got %s", proj.CurrentGate)
	}
}

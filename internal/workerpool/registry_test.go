package workerpool

import (
	"context"
	"testing"

	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
)

func newTestRegistry(t *testing.T) (*Registry, *truth.Store) {
	t.Helper()
	store, err := truth.Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func TestRegisterDefaultsToIdle(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, "w1", "backend", []string{"go", "sql"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	w, err := store.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if w.Status != string(StatusIdle) {
		t.Errorf("expected idle, got %s", w.Status)
	}
	if w.Category != "backend" {
		t.Errorf("expected backend category, got %s", w.Category)
	}
}

func TestMarkActiveAndIdleCycle(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, "w1", "backend", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.MarkActive(ctx, "w1", "task-1"); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	w, err := store.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if w.Status != string(StatusActive) || w.CurrentTask != "task-1" {
		t.Errorf("expected active on task-1, got %+v", w)
	}

	if err := r.MarkIdle(ctx, "w1", true); err != nil {
		t.Fatalf("mark idle: %v", err)
	}
	w, err = store.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if w.Status != string(StatusIdle) || w.CurrentTask != "" {
		t.Errorf("expected idle with no task, got %+v", w)
	}
	if w.TasksCompleted != 1 {
		t.Errorf("expected tasksCompleted 1, got %d", w.TasksCompleted)
	}
}

func TestAvailableForCategoryExcludesOffline(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, "w1", "backend", nil); err != nil {
		t.Fatalf("register w1: %v", err)
	}
	if err := r.Register(ctx, "w2", "backend", nil); err != nil {
		t.Fatalf("register w2: %v", err)
	}
	if err := r.MarkOffline(ctx, "w2"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	available, err := r.AvailableForCategory(ctx, "backend")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 1 || available[0].ID != "w1" {
		t.Errorf("expected only w1 available, got %+v", available)
	}
}

func TestRequireCategoryRejectsMismatch(t *testing.T) {
	w := truth.Worker{ID: "w1", Category: "frontend"}
	if err := RequireCategory(w, "backend"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := RequireCategory(w, "frontend"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
}

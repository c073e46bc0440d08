// Package workerpool implements the Worker Registry: tracking registered
// workers and their availability, pairing with the Task Queue on dequeue.
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// Status is a worker's availability.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusActive  Status = "active"
	StatusOffline Status = "offline"
)

// Registry tracks workers by category and availability.
type Registry struct {
	store *truth.Store
}

// New constructs a Worker Registry backed by store.
func New(store *truth.Store) *Registry {
	return &Registry{store: store}
}

// Register adds a worker with the given category and capabilities,
// defaulting its status to idle.
// Workers are a global resource shared across projects, not scoped to a
// single project's event log, so Register writes the cached row directly
// rather than appending a per-project event.
func (r *Registry) Register(ctx context.Context, id, category string, capabilities []string) error {
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return cerrors.InvalidInput("marshal worker capabilities", "ensure capabilities are strings")
	}
	return r.store.UpsertWorker(ctx, truth.Worker{ID: id, Category: category, Capabilities: string(caps), Status: string(StatusIdle)})
}

// MarkActive marks a worker active and records the task it is working on.
func (r *Registry) MarkActive(ctx context.Context, workerID, taskID string) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	w.Status = string(StatusActive)
	w.CurrentTask = taskID
	return r.store.UpsertWorker(ctx, w)
}

// MarkIdle marks a worker idle, clearing its current task and incrementing
// tasksCompleted if it had just finished one.
func (r *Registry) MarkIdle(ctx context.Context, workerID string, completedOne bool) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	w.Status = string(StatusIdle)
	w.CurrentTask = ""
	if completedOne {
		w.TasksCompleted++
	}
	return r.store.UpsertWorker(ctx, w)
}

// MarkOffline marks a worker offline; it is no longer eligible for dequeue.
func (r *Registry) MarkOffline(ctx context.Context, workerID string) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	w.Status = string(StatusOffline)
	return r.store.UpsertWorker(ctx, w)
}

// AvailableForCategory returns idle workers whose category matches.
func (r *Registry) AvailableForCategory(ctx context.Context, category string) ([]truth.Worker, error) {
	workers, err := r.store.ListWorkers(ctx, category)
	if err != nil {
		return nil, err
	}
	var out []truth.Worker
	for _, w := range workers {
		if w.Status == string(StatusIdle) {
			out = append(out, w)
		}
	}
	return out, nil
}

// RequireCategory returns an error unless the worker's registered
// category matches the required one — the dequeue-time invariant that a
// worker's category must match the workerCategory of any task it takes.
func RequireCategory(worker truth.Worker, required string) error {
	if worker.Category != required {
		return cerrors.PreconditionFailed(fmt.Sprintf("worker %s has category %s, task requires %s", worker.ID, worker.Category, required))
	}
	return nil
}

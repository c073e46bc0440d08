package taskqueue

import (
	"container/heap"
	"context"
	"time"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// Outcome is the terminal result of a task attempt.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

// Dequeue scans the queue head-to-tail (by priority then creation order)
// for the first QUEUED task whose workerCategory matches category and
// whose specRefs do not intersect any currently IN_PROGRESS task's
// specRefs. On match it marks the task IN_PROGRESS and records the assigned
// worker; the attempt count is not changed here (it is advanced when Complete
// records a failed attempt). Returns (nil, nil) if nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, projectID, workerID, category string) (*truth.Task, error) {
	h := q.heapFor(projectID)
	inProgress, err := q.store.ListTasks(ctx, projectID, "IN_PROGRESS")
	if err != nil {
		return nil, err
	}
	conflictRefs := make(map[string]bool)
	for _, t := range inProgress {
		for _, ref := range t.SpecRefs {
			conflictRefs[ref] = true
		}
	}

	var skipped []*scheduledTask
	defer func() {
		for _, s := range skipped {
			heap.Push(h, s)
		}
	}()

	for h.Len() > 0 {
		candidate := heap.Pop(h).(*scheduledTask)
		task, err := q.store.GetTask(ctx, projectID, candidate.taskID)
		if err != nil {
			continue // task no longer exists in this view; drop it
		}
		if task.Status != "QUEUED" {
			continue // state advanced via another path (e.g. manual retry); drop stale heap entry
		}
		if task.WorkerCategory != category {
			skipped = append(skipped, candidate)
			continue
		}
		if intersects(task.SpecRefs, conflictRefs) {
			skipped = append(skipped, candidate)
			continue
		}

		ev, err := truth.NewEvent(truth.EventTaskStarted, projectID, workerID, truth.TaskEventPayload{
			TaskID: task.ID, AssignedWorker: workerID,
		})
		if err != nil {
			return nil, err
		}
		if _, err := q.store.AppendEvent(ctx, ev); err != nil {
			return nil, err
		}
		started, err := q.store.GetTask(ctx, projectID, task.ID)
		if err != nil {
			return nil, err
		}
		return &started, nil
	}
	return nil, nil
}

func intersects(refs []string, set map[string]bool) bool {
	for _, r := range refs {
		if set[r] {
			return true
		}
	}
	return false
}

// Complete marks taskID according to outcome. On OutcomeComplete it runs
// the unblock pass over every BLOCKED task in the project. On
// OutcomeFailed it leaves the task FAILED for the self-healing retry
// policy to examine.
func (q *Queue) Complete(ctx context.Context, projectID, taskID, workerID string, outcome Outcome, output, errMsg string) error {
	task, err := q.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return err
	}
	if task.Status != "IN_PROGRESS" {
		return cerrors.PreconditionFailed("task " + taskID + " is not in progress")
	}

	eventType := truth.EventTaskCompleted
	if outcome == OutcomeFailed {
		eventType = truth.EventTaskFailed
	}
	ev, err := truth.NewEvent(eventType, projectID, workerID, truth.TaskEventPayload{
		TaskID: taskID, Outcome: string(outcome), Error: errMsg, Attempts: task.Attempts + 1,
	})
	if err != nil {
		return err
	}
	if _, err := q.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	if outcome == OutcomeComplete {
		return q.unblockOnTaskComplete(ctx, projectID, taskID)
	}
	return nil
}

// unblockOnTaskComplete removes taskID from every BLOCKED task's
// tasks:<...> blocker, collapsing and dropping the token if it empties,
// and transitions any task whose blockers are now empty to QUEUED.
func (q *Queue) unblockOnTaskComplete(ctx context.Context, projectID, taskID string) error {
	return q.collapseBlockers(ctx, projectID, func(blocker string) (string, bool) {
		return removeFromTasksBlocker(blocker, taskID)
	})
}

// UnblockOnGateApproved drops gate:<G> from every blocked task and applies
// the same collapse rule. Called by the Core when the Gate State Machine
// approves a gate.
func (q *Queue) UnblockOnGateApproved(ctx context.Context, projectID, gate string) error {
	return q.collapseBlockers(ctx, projectID, func(blocker string) (string, bool) {
		if blocker == "gate:"+gate {
			return "", false
		}
		return blocker, true
	})
}

// collapseBlockers applies transform to every blocker token of every
// BLOCKED task; transform returns (newToken, keep). A task whose blocker
// list becomes empty transitions to QUEUED and re-enters the heap.
func (q *Queue) collapseBlockers(ctx context.Context, projectID string, transform func(string) (string, bool)) error {
	blocked, err := q.store.ListTasks(ctx, projectID, "BLOCKED")
	if err != nil {
		return err
	}
	for _, t := range blocked {
		var remaining []string
		for _, b := range t.Blockers {
			if newToken, keep := transform(b); keep {
				remaining = append(remaining, newToken)
			}
		}
		status := "BLOCKED"
		if len(remaining) == 0 {
			status = "QUEUED"
		}
		if err := q.store.SetTaskBlockersAndStatus(ctx, projectID, t.ID, remaining, status); err != nil {
			return err
		}
		if status == "QUEUED" {
			heap.Push(q.heapFor(projectID), &scheduledTask{taskID: t.ID, priority: Priority(t.Priority), createdAt: time.Now()})
		}
	}
	return nil
}

// removeFromTasksBlocker strips taskID out of a "tasks:<id,...>" blocker
// token, returning the updated token and whether anything remains to keep.
// Non-"tasks:" tokens pass through unchanged.
func removeFromTasksBlocker(blocker, taskID string) (string, bool) {
	const prefix = "tasks:"
	if len(blocker) <= len(prefix) || blocker[:len(prefix)] != prefix {
		return blocker, true
	}
	ids := splitCSV(blocker[len(prefix):])
	var remaining []string
	for _, id := range ids {
		if id != taskID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return "", false
	}
	return prefix + joinIDs(remaining), true
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Retry re-queues a FAILED task whose attempts are below maxAttempts,
// promoting its priority by one rank (capped at critical). Tasks that
// have exhausted maxAttempts remain FAILED for human attention.
func (q *Queue) Retry(ctx context.Context, projectID, taskID string) error {
	task, err := q.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return err
	}
	if task.Status != "FAILED" {
		return cerrors.PreconditionFailed("task " + taskID + " is not FAILED")
	}
	if task.Attempts >= task.MaxAttempts {
		return cerrors.PreconditionFailed("task " + taskID + " has exhausted max attempts")
	}

	newPriority := promote(Priority(task.Priority))
	ev, err := truth.NewEvent(truth.EventTaskRetried, projectID, "system", truth.TaskEventPayload{
		TaskID: taskID, Priority: string(newPriority), Attempts: task.Attempts,
	})
	if err != nil {
		return err
	}
	if _, err := q.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	heap.Push(q.heapFor(projectID), &scheduledTask{taskID: taskID, priority: newPriority, createdAt: time.Now()})
	return nil
}

// History returns the full event history for one task, filtered from the
// project's event log by task id.
func (q *Queue) History(ctx context.Context, projectID, taskID string) ([]truth.Event, error) {
	return q.store.GetEventLog(ctx, projectID, truth.EventLogFilter{TaskID: taskID})
}
